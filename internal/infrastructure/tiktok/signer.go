package tiktok

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Sign computes the request signature required by the TikTok Shop API.
//
// Canonical string: secret + path + sorted concatenated params + body +
// secret, where params exclude the sign and access_token keys, remaining
// keys sort lexicographically and each is appended as key immediately
// followed by its value with no separator. The HMAC-SHA256 over that string,
// keyed by the secret, is hex-encoded lowercase.
//
// Pure function: same inputs always yield the same signature. An empty body
// participates as the empty string rather than being omitted.
func Sign(path string, params url.Values, body []byte, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" || k == "access_token" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(secret)
	b.WriteString(path)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params.Get(k))
	}
	b.Write(body)
	b.WriteString(secret)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}
