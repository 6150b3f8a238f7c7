// Package signer computes request signatures for the cloud hosting API.
package signer

import (
	"crypto/hmac"
	"crypto/sha1" // #nosec G505 -- the provider only accepts HmacSHA1
	"encoding/base64"
	"sort"
	"strings"
)

// SignatureKey is the parameter that carries the signature. It never takes
// part in the canonical query string.
const SignatureKey = "Signature"

// Signer signs parameter sets for a fixed host and path.
type Signer struct {
	host   string
	path   string
	secret []byte
}

// New creates a signer for requests sent to host+path.
func New(host, path, secretAccessKey string) *Signer {
	return &Signer{
		host:   host,
		path:   path,
		secret: []byte(secretAccessKey),
	}
}

// CanonicalQuery serializes params as k1=v1&k2=v2 with keys sorted
// ascending. Values are not escaped: a value containing '&' or '=' produces
// the same string as a different split of keys would.
func CanonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == SignatureKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// StringToSign returns the exact bytes covered by the signature.
func (s *Signer) StringToSign(params map[string]string) string {
	return "GET\n" + s.host + "\n" + s.path + "\n" + CanonicalQuery(params)
}

// Sign returns the base64 HMAC-SHA1 signature of params.
func (s *Signer) Sign(params map[string]string) string {
	mac := hmac.New(sha1.New, s.secret)
	mac.Write([]byte(s.StringToSign(params)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
