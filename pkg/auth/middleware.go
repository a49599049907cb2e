package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/opencawt/court/pkg/api"
	"github.com/opencawt/court/pkg/crypto"
)

// maxClockSkew bounds how far a request timestamp may drift from wall
// clock time before it is rejected, in either direction.
const maxClockSkew = 300 * time.Second

// NonceStore records nonces already consumed for an agent within the
// clock-skew window, rejecting any repeat as a replay.
type NonceStore interface {
	ConsumeNonce(agentID, nonce string, expiresAt time.Time) (fresh bool, err error)
}

// FailedAuthLimiter enforces a per-IP cap on signature failures, tracked
// in-process per §5's documented scale boundary.
type FailedAuthLimiter interface {
	Allow(ip string) bool
}

// publicPaths are endpoints reachable without a signed request.
var publicPaths = []string{
	"/health",
	"/readiness",
	"/startup",
}

// publicPathPrefixes are path prefixes exempt from the agent signed-request
// scheme because they authenticate a different caller entirely: the seal
// worker and the court operator, via a bearer token each handler checks
// for itself, rather than an agent's Ed25519 signature.
var publicPathPrefixes = []string{
	"/api/internal/",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, p := range publicPathPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// clock is overridable in tests.
var clock = time.Now

// NewSignatureMiddleware verifies every mutating request against the v1
// signing scheme:
//
//	OCPv1|{method}|{path}|{unix_timestamp}|{nonce}|{sha256_hex(body)}
//
// or, when the request carries no X-OCP-Nonce, the prior scheme:
//
//	OpenCawtReqV1|{method}|{path}||{ts}|{payloadHash}
//
// Both are kept behind this single verifier; only v1 is advertised
// externally. The scheme is picked by the presence of the nonce alone, so
// the prior scheme is accepted on every path, not only on a legacy route
// family. Required headers: X-OCP-Agent-Id, X-OCP-Timestamp,
// X-OCP-Signature. X-OCP-Nonce selects v1 and is checked for replay;
// X-OCP-Body-Sha256 is optional and, when sent, must match the body's hash.
// On success the resolved Identity is attached to the request context.
func NewSignatureMiddleware(nonces NonceStore, failedAuth FailedAuthLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			fail := func(code api.ErrorCode, message string) {
				if failedAuth != nil && !failedAuth.Allow(clientIP(r)) {
					api.WriteError(w, http.StatusTooManyRequests, api.ErrCodeRateLimited, "too many failed auth attempts", nil)
					return
				}
				api.WriteUnauthorizedCode(w, code, message)
			}

			agentID := r.Header.Get("X-OCP-Agent-Id")
			signature := r.Header.Get("X-OCP-Signature")
			tsHeader := r.Header.Get("X-OCP-Timestamp")
			nonce := r.Header.Get("X-OCP-Nonce")
			bodyHashHeader := r.Header.Get("X-OCP-Body-Sha256")
			if agentID == "" || signature == "" || tsHeader == "" {
				fail(api.ErrCodeSignatureInvalid, "missing signed-request headers")
				return
			}

			ts, err := strconv.ParseInt(tsHeader, 10, 64)
			if err != nil {
				fail(api.ErrCodeSignatureInvalid, "invalid timestamp")
				return
			}
			reqTime := time.Unix(ts, 0)
			skew := clock().Sub(reqTime)
			if skew < 0 {
				skew = -skew
			}
			if skew > maxClockSkew {
				fail(api.ErrCodeTimestampExpired, "timestamp outside allowed window")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				api.WriteBadRequest(w, "unable to read request body")
				return
			}
			r.Body = io.NopCloser(strings.NewReader(string(body)))
			bodyHashSum := sha256.Sum256(body)
			payloadHash := hex.EncodeToString(bodyHashSum[:])

			if bodyHashHeader != "" && bodyHashHeader != payloadHash {
				fail(api.ErrCodeBodyHashMismatch, "body hash does not match signed header")
				return
			}

			var message string
			var scheme AuthScheme
			if nonce != "" {
				scheme = SchemeOCPv1
				message = fmt.Sprintf("OCPv1|%s|%s|%d|%s|%s", r.Method, r.URL.Path, ts, nonce, payloadHash)
			} else {
				scheme = SchemeOpenCawtReqV1
				message = fmt.Sprintf("OpenCawtReqV1|%s|%s||%d|%s", r.Method, r.URL.Path, ts, payloadHash)
			}

			ok, err := crypto.VerifyAgentSignature(agentID, []byte(message), signature)
			if err != nil || !ok {
				fail(api.ErrCodeSignatureInvalid, "invalid signature")
				return
			}

			if scheme == SchemeOCPv1 && nonces != nil {
				fresh, err := nonces.ConsumeNonce(agentID, nonce, clock().Add(maxClockSkew))
				if err != nil {
					api.WriteInternal(w, fmt.Errorf("nonce check failed: %w", err))
					return
				}
				if !fresh {
					fail(api.ErrCodeNonceReused, "nonce already used within the replay window")
					return
				}
			}

			ctx := WithIdentity(r.Context(), Identity{AgentID: agentID, Scheme: scheme})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
