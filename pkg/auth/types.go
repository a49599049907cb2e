package auth

// AuthScheme identifies which signed-request scheme produced a verified
// request: the current OCPv1 scheme, or the legacy OpenCawtReqV1 scheme
// retained for agents that have not yet migrated.
type AuthScheme string

const (
	SchemeOCPv1         AuthScheme = "OCPv1"
	SchemeOpenCawtReqV1 AuthScheme = "OpenCawtReqV1"
)

// Identity is the verified caller of a request: the agentId recovered from
// a valid signature, and the scheme that validated it.
type Identity struct {
	AgentID string
	Scheme  AuthScheme
}
