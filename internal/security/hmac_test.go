package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"id":1001,"email":"a@b.com","total_price":"49.90"}`)
	secret := "shpss_test_secret"

	assert.True(t, VerifyWebhookSignature(body, sign(body, secret), secret))
}

func TestVerifyWebhookSignatureWrongSecret(t *testing.T) {
	body := []byte(`{"id":1001}`)

	assert.False(t, VerifyWebhookSignature(body, sign(body, "secret-a"), "secret-b"))
}

func TestVerifyWebhookSignatureBodyMutation(t *testing.T) {
	body := []byte(`{"id":1001,"email":"a@b.com"}`)
	secret := "shpss_test_secret"
	header := sign(body, secret)

	// Flipping any single byte of the body must invalidate the signature.
	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		assert.False(t, VerifyWebhookSignature(mutated, header, secret), "byte %d", i)
	}
}

func TestVerifyWebhookSignatureHeaderMutation(t *testing.T) {
	body := []byte(`{"id":1001}`)
	secret := "shpss_test_secret"
	header := sign(body, secret)

	mutated := []byte(header)
	if mutated[0] == 'A' {
		mutated[0] = 'B'
	} else {
		mutated[0] = 'A'
	}
	assert.False(t, VerifyWebhookSignature(body, string(mutated), secret))
}

func TestVerifyWebhookSignatureMalformed(t *testing.T) {
	body := []byte(`{}`)

	assert.False(t, VerifyWebhookSignature(body, "", "secret"))
	assert.False(t, VerifyWebhookSignature(body, "not-base64-!!!", "secret"))
	assert.False(t, VerifyWebhookSignature(body, sign(body, "secret"), ""))
}

func TestVerifyQuerySignature(t *testing.T) {
	secret := "shpss_test_secret"
	params := map[string]string{
		"shop":      "demo.myshopify.com",
		"timestamp": "1700000000",
		"code":      "abc123",
	}

	// Expected digest over "code=abc123&shop=demo.myshopify.com&timestamp=1700000000".
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("code=abc123&shop=demo.myshopify.com&timestamp=1700000000"))
	hexDigest := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, VerifyQuerySignature(params, hexDigest, secret))

	// The hmac key itself is excluded from the signed message.
	params["hmac"] = hexDigest
	assert.True(t, VerifyQuerySignature(params, hexDigest, secret))

	params["shop"] = "evil.myshopify.com"
	assert.False(t, VerifyQuerySignature(params, hexDigest, secret))
}

func TestSignSSOPayloadRoundTrip(t *testing.T) {
	payload := []byte(`{"action":"LOGIN","timestamp":1700000000,"customer_id":"7001"}`)
	secret := "sso-secret"

	sig := SignSSOPayload(payload, secret)
	assert.True(t, VerifySSOPayload(payload, sig, secret))
	assert.False(t, VerifySSOPayload(payload, sig, "other-secret"))
	assert.False(t, VerifySSOPayload([]byte(`{"action":"LOGOUT"}`), sig, secret))
	assert.False(t, VerifySSOPayload(payload, "", secret))
}

func TestAESGCMRoundTrip(t *testing.T) {
	key, err := LoadKeyFromBase64(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)

	enc, err := EncryptAESGCM(key, "fg_live_api_key_123")
	require.NoError(t, err)

	dec, err := DecryptAESGCM(key, enc)
	require.NoError(t, err)
	assert.Equal(t, "fg_live_api_key_123", dec)

	_, err = DecryptAESGCM(key, "tooshort")
	assert.Error(t, err)
}

func TestLoadKeyFromBase64WrongLength(t *testing.T) {
	_, err := LoadKeyFromBase64(base64.StdEncoding.EncodeToString(make([]byte, 16)))
	assert.Error(t, err)
}
