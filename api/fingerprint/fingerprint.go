// Package fingerprint computes the cache keys used to memoize analysis requests.
//
// A fingerprint is the SHA-256 digest, as lowercase hex, of the JCS (RFC 8785) canonical JSON
// form of the request parameters. Canonicalization sorts object keys recursively and fixes
// number and string encoding, so two logically equal parameter sets always hash the same no
// matter how they were assembled.
package fingerprint

import (
	"encoding/json"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// ContentSeparator joins a content digest and a parameter fingerprint.
const ContentSeparator = "+"

// Compute returns the fingerprint of the given parameters. Parameters may be any JSON
// serializable value: maps, structs with json tags or raw JSON.
func Compute(parameters interface{}) (string, error) {
	canonical, err := Canonicalize(parameters)
	if err != nil {
		return "", err
	}
	return digest.SHA256.FromBytes(canonical).Encoded(), nil
}

// Canonicalize returns the canonical JSON serialization the fingerprint is computed over.
func Canonicalize(parameters interface{}) ([]byte, error) {
	serialized, err := json.Marshal(parameters)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize parameters")
	}
	canonical, err := jsoncanonicalizer.Transform(serialized)
	if err != nil {
		return nil, errors.Wrap(err, "failed to canonicalize parameters")
	}
	return canonical, nil
}

// WithContent scopes a parameter fingerprint to an external content identity such as an image
// digest, so identical parameters against different content never share a key.
func WithContent(contentDigest string, parameterFingerprint string) string {
	return contentDigest + ContentSeparator + parameterFingerprint
}
