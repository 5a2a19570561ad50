package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"loyaltybridge/internal/partner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testDeriver() *Deriver {
	d := NewDeriver(zap.NewNop())
	d.Now = func() time.Time { return time.Unix(1700000000, 0) }
	return d
}

func baseInput() Input {
	return Input{
		EmbedURL:      "https://embed.example.com/app",
		Shop:          "demo.myshopify.com",
		CustomerID:    "7001",
		CustomerEmail: "a@b.com",
		SSOSecret:     "sso-secret",
		SSOEnabled:    true,
	}
}

func TestDeriveNoIdentity(t *testing.T) {
	in := baseInput()
	in.CustomerID = ""
	in.CustomerEmail = ""

	s := testDeriver().Derive(context.Background(), in)
	assert.Equal(t, MethodNone, s.Method)
	assert.Equal(t, in.EmbedURL, s.URL)
}

func TestDeriveEmailLoginWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":1,"data":{"userinfo":{"user_id":42,"token":"abc","score":10}}}`))
	}))
	defer srv.Close()

	in := baseInput()
	in.PartnerBaseURL = srv.URL

	s := testDeriver().Derive(context.Background(), in)

	require.Equal(t, MethodEmailLogin, s.Method)
	require.NotNil(t, s.User)
	assert.Equal(t, int64(42), s.User.UserID)
	assert.Nil(t, s.SSO, "token login must never fall through to SSO")

	u, err := url.Parse(s.URL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "abc", q.Get("token"))
	assert.Equal(t, "42", q.Get("user_id"))
	assert.Equal(t, "demo.myshopify.com", q.Get("shop"))
	assert.Equal(t, MethodEmailLogin, q.Get("method"))
}

func TestDeriveTimeoutFallsBackToSSO(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	d := testDeriver()
	d.NewClient = func(baseURL, apiKey string) *partner.Client {
		c := partner.NewClient(baseURL, apiKey)
		c.ProbeTimeout = 20 * time.Millisecond
		return c
	}

	in := baseInput()
	in.PartnerBaseURL = srv.URL

	s := d.Derive(context.Background(), in)

	require.Equal(t, MethodSSO, s.Method)
	require.NotNil(t, s.SSO)
	assert.Equal(t, "LOGIN", s.SSO.Data.Action)
	assert.Equal(t, int64(1700000000), s.SSO.Data.Timestamp)
	assert.Equal(t, "7001", s.SSO.Data.CustomerID)

	// Signature must verify against the store's signing secret.
	assert.True(t, VerifySSOBundle(*s.SSO, "sso-secret"))
	assert.False(t, VerifySSOBundle(*s.SSO, "wrong-secret"))

	u, err := url.Parse(s.URL)
	require.NoError(t, err)
	assert.NotEmpty(t, u.Query().Get("sso_data"))
}

func TestDeriveRejectedLoginFallsBackToSSO(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"msg":"user not found"}`))
	}))
	defer srv.Close()

	in := baseInput()
	in.PartnerBaseURL = srv.URL

	s := testDeriver().Derive(context.Background(), in)
	assert.Equal(t, MethodSSO, s.Method)
}

func TestDeriveNoPartnerURLSkipsStraightToSSO(t *testing.T) {
	s := testDeriver().Derive(context.Background(), baseInput())
	assert.Equal(t, MethodSSO, s.Method)
}

func TestDeriveNoCustomerIDNoSSOFallback(t *testing.T) {
	in := baseInput()
	in.CustomerID = ""

	// Email present but no partner URL and no customer id: nothing to
	// authenticate with.
	s := testDeriver().Derive(context.Background(), in)
	assert.Equal(t, MethodNone, s.Method)
	assert.Equal(t, in.EmbedURL, s.URL)
}

func TestDeriveSSODisabled(t *testing.T) {
	in := baseInput()
	in.SSOEnabled = false

	s := testDeriver().Derive(context.Background(), in)
	assert.Equal(t, MethodNone, s.Method)
}

func TestDeriveNoSigningSecret(t *testing.T) {
	in := baseInput()
	in.SSOSecret = ""

	s := testDeriver().Derive(context.Background(), in)
	assert.Equal(t, MethodNone, s.Method)
}
