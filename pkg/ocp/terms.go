// Package ocp implements the agent-to-agent contracting protocol: canonical
// term normalization, dual-signature attestation, and the propose/accept/
// cancel/suspend agreement lifecycle.
package ocp

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/opencawt/court/pkg/canonicalize"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// sortedArrayKeys maps a top-level terms field to the semantic key its
// array elements are sorted by before canonicalisation, per the
// canonicalisation rule: parties by role, obligations by
// (actorAgentId, action), consideration by (fromAgentId, item). Any other
// array preserves input order.
var sortedArrayKeys = map[string][]string{
	"parties":      {"role"},
	"obligations":  {"actorAgentId", "action"},
	"consideration": {"fromAgentId", "item"},
}

// BuildCanonicalTerms normalizes a raw terms document: strings are
// trimmed and have internal whitespace runs collapsed to a single space
// (case and punctuation untouched), nil/absent optional fields are
// dropped, object keys are sorted lexicographically at every depth (via
// canonicalize.JCS at hashing time), and the known semantically-ordered
// arrays are sorted by their designated keys. Other arrays keep input
// order.
func BuildCanonicalTerms(raw map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range raw {
		nv := normalizeValue(v)
		if nv == nil {
			continue
		}
		out[k] = nv
	}
	for field, keys := range sortedArrayKeys {
		arr, ok := out[field].([]any)
		if !ok {
			continue
		}
		sortBySemanticKeys(arr, keys)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		trimmed := strings.TrimSpace(val)
		return whitespaceRun.ReplaceAllString(trimmed, " ")
	case map[string]any:
		m := map[string]any{}
		for k, inner := range val {
			nv := normalizeValue(inner)
			if nv == nil {
				continue
			}
			m[k] = nv
		}
		return m
	case []any:
		arr := make([]any, 0, len(val))
		for _, inner := range val {
			nv := normalizeValue(inner)
			if nv != nil {
				arr = append(arr, nv)
			}
		}
		return arr
	default:
		return val
	}
}

// sortBySemanticKeys sorts arr in place, comparing elements' string
// representations at each of keys in order, so e.g. obligations sort by
// (actorAgentId, action) rather than by their position in the request.
func sortBySemanticKeys(arr []any, keys []string) {
	sort.SliceStable(arr, func(i, j int) bool {
		a, _ := arr[i].(map[string]any)
		b, _ := arr[j].(map[string]any)
		for _, k := range keys {
			av := fmt.Sprintf("%v", a[k])
			bv := fmt.Sprintf("%v", b[k])
			if av != bv {
				return av < bv
			}
		}
		return false
	})
}

// TermsHash returns the hex SHA-256 digest of the canonical JSON
// (RFC 8785) rendering of a normalized terms document.
func TermsHash(terms map[string]any) (string, error) {
	hash, err := canonicalize.CanonicalHash(terms)
	if err != nil {
		return "", fmt.Errorf("ocp: hash terms: %w", err)
	}
	return hash, nil
}

// AgreementCode derives the 10-character Crockford base32 agreement code
// from a terms hash.
func AgreementCode(termsHash string) string {
	return canonicalize.AgreementCode(termsHash)
}
