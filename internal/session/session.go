// Package session derives the authenticated entry point handed to the
// embedded partner frontend.
package session

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"loyaltybridge/internal/partner"
	"loyaltybridge/internal/security"

	"go.uber.org/zap"
)

// Handoff methods, in fallback order.
const (
	MethodEmailLogin = "email-login"
	MethodSSO        = "sso"
	MethodNone       = "none"
)

// Input carries one page load's identity and the store's partner
// configuration.
type Input struct {
	EmbedURL       string
	Shop           string
	CustomerID     string
	CustomerEmail  string
	PartnerBaseURL string
	PartnerAPIKey  string
	SSOSecret      string
	SSOEnabled     bool
}

// SSOPayload is the signed parameter bundle proving customer identity
// without a partner-issued token.
type SSOPayload struct {
	Action         string `json:"action"`
	Timestamp      int64  `json:"timestamp"`
	ShopifyStoreID string `json:"shopify_store_id"`
	CustomerID     string `json:"customer_id"`
	CustomerEmail  string `json:"customer_email"`
}

// SSOBundle is the payload plus its hex HMAC, serialized into the
// sso_data query parameter.
type SSOBundle struct {
	Data SSOPayload `json:"data"`
	HMAC string     `json:"hmac"`
}

// Session is ephemeral: one page load, never stored server-side.
type Session struct {
	Method string            `json:"method"`
	URL    string            `json:"url"`
	User   *partner.Userinfo `json:"user,omitempty"`
	SSO    *SSOBundle        `json:"sso,omitempty"`
}

// Deriver builds sessions. NewClient and Now are injectable for tests.
type Deriver struct {
	NewClient func(baseURL, apiKey string) *partner.Client
	Now       func() time.Time
	Log       *zap.Logger
}

func NewDeriver(log *zap.Logger) *Deriver {
	return &Deriver{
		NewClient: partner.NewClient,
		Now:       time.Now,
		Log:       log,
	}
}

// Derive walks the fallback chain in strict order, first success wins:
// email login against the partner, then a signed SSO bundle, then the
// bare embed URL. Email login is preferred because it needs no
// pre-shared secret; the HMAC bundle covers stores with a signing
// secret but no reachable partner base URL.
func (d *Deriver) Derive(ctx context.Context, in Input) Session {
	email := strings.TrimSpace(in.CustomerEmail)
	customerID := strings.TrimSpace(in.CustomerID)

	if email == "" && customerID == "" {
		return Session{Method: MethodNone, URL: in.EmbedURL}
	}

	if strings.TrimSpace(in.PartnerBaseURL) != "" && email != "" {
		client := d.NewClient(in.PartnerBaseURL, in.PartnerAPIKey)
		ui, err := client.EmailLogin(ctx, email)
		if err == nil {
			return Session{
				Method: MethodEmailLogin,
				URL:    tokenURL(in.EmbedURL, in.Shop, ui),
				User:   ui,
			}
		}
		d.Log.Info("email login unavailable, falling back",
			zap.String("shop", in.Shop),
			zap.Error(err))
	}

	if customerID != "" && in.SSOEnabled && in.SSOSecret != "" {
		bundle := d.signSSO(in, customerID, email)
		return Session{
			Method: MethodSSO,
			URL:    ssoURL(in.EmbedURL, bundle),
			SSO:    &bundle,
		}
	}

	return Session{Method: MethodNone, URL: in.EmbedURL}
}

func (d *Deriver) signSSO(in Input, customerID, email string) SSOBundle {
	payload := SSOPayload{
		Action:         "LOGIN",
		Timestamp:      d.Now().Unix(),
		ShopifyStoreID: in.Shop,
		CustomerID:     customerID,
		CustomerEmail:  email,
	}
	b, _ := json.Marshal(payload)
	return SSOBundle{Data: payload, HMAC: security.SignSSOPayload(b, in.SSOSecret)}
}

// VerifySSOBundle checks a bundle's signature. It is the receiving-end
// counterpart of the bundle Derive signs.
func VerifySSOBundle(bundle SSOBundle, secret string) bool {
	b, err := json.Marshal(bundle.Data)
	if err != nil {
		return false
	}
	return security.VerifySSOPayload(b, bundle.HMAC, secret)
}

func tokenURL(embedURL, shop string, ui *partner.Userinfo) string {
	u, err := url.Parse(embedURL)
	if err != nil {
		return embedURL
	}
	q := u.Query()
	q.Set("token", ui.Token)
	q.Set("user_id", strconv.FormatInt(ui.UserID, 10))
	q.Set("shop", shop)
	q.Set("method", MethodEmailLogin)
	u.RawQuery = q.Encode()
	return u.String()
}

func ssoURL(embedURL string, bundle SSOBundle) string {
	u, err := url.Parse(embedURL)
	if err != nil {
		return embedURL
	}
	b, _ := json.Marshal(bundle)
	q := u.Query()
	q.Set("sso_data", string(b))
	u.RawQuery = q.Encode()
	return u.String()
}
