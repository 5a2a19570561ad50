package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"sort"
	"strings"
)

// VerifyWebhookSignature checks the platform webhook HMAC header against
// the exact raw request body. The platform sends base64(HMAC-SHA256(body))
// in x-shopify-hmac-sha256. Returns false on any malformed input; it is
// the sole gate against forged sync traffic, so callers must reject before
// touching persistent state.
func VerifyWebhookSignature(rawBody []byte, header, secret string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(want), []byte(header))
}

// VerifyQuerySignature checks the hex HMAC the platform appends to
// OAuth-style requests: keys sorted, joined as k=v with &, the hmac
// key itself excluded.
func VerifyQuerySignature(params map[string]string, givenHex, secret string) bool {
	givenHex = strings.TrimSpace(givenHex)
	if givenHex == "" || secret == "" {
		return false
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	want := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(want), []byte(givenHex))
}

// SignSSOPayload returns the hex HMAC-SHA256 of a serialized SSO payload.
func SignSSOPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySSOPayload(payload []byte, signature, secret string) bool {
	if strings.TrimSpace(signature) == "" || secret == "" {
		return false
	}
	want := SignSSOPayload(payload, secret)
	return hmac.Equal([]byte(want), []byte(signature))
}
