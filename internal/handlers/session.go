package handlers

import (
	"context"
	"errors"
	"os"

	"loyaltybridge/internal/security"
	"loyaltybridge/internal/session"
	"loyaltybridge/internal/store"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"
)

// EmbedSession serves the handoff the embedded frontend loads with:
// the store's embed URL plus whichever authenticated entry point the
// fallback chain produced. Requests arrive through the platform's app
// proxy, which signs the sorted query string; with a secret configured
// the signature is verified before any parameter is trusted.
type EmbedSession struct {
	Store   *store.Store
	Deriver *session.Deriver
	Secret  string
	Log     *zap.Logger
}

func NewEmbedSession(st *store.Store, log *zap.Logger) *EmbedSession {
	return &EmbedSession{
		Store:   st,
		Deriver: session.NewDeriver(log),
		Secret:  os.Getenv("SHOPIFY_API_SECRET"),
		Log:     log,
	}
}

type embedSessionResponse struct {
	EmbedURL    string          `json:"embedUrl"`
	EmbedHeight int             `json:"embedHeight"`
	Session     session.Session `json:"session"`
}

func (h *EmbedSession) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if req.RequestContext.HTTP.Method != "GET" {
		return errResp(405, "method not allowed")
	}

	if h.Secret != "" {
		sig := req.QueryStringParameters["signature"]
		if !security.VerifyQuerySignature(req.QueryStringParameters, sig, h.Secret) {
			h.Log.Warn("rejected embed session request with invalid query signature")
			return errResp(401, "invalid signature")
		}
	}

	shop := req.QueryStringParameters["shop"]
	if shop == "" {
		return errResp(400, "shop parameter required")
	}

	acct, err := h.Store.GetStoreAccount(ctx, shop)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errResp(404, "store not found")
		}
		h.Log.Error("failed to load store", zap.String("shop", shop), zap.Error(err))
		return errResp(500, "internal error")
	}

	sess := h.Deriver.Derive(ctx, session.Input{
		EmbedURL:       acct.EmbedURL,
		Shop:           shop,
		CustomerID:     req.QueryStringParameters["customer_id"],
		CustomerEmail:  req.QueryStringParameters["customer_email"],
		PartnerBaseURL: acct.PartnerBaseURL,
		PartnerAPIKey:  acct.PartnerAPIKey,
		SSOSecret:      acct.SSOSecret,
		SSOEnabled:     acct.SSOEnabled,
	})

	height := acct.EmbedHeight
	if height == 0 {
		height = 600
	}

	return jsonResp(200, embedSessionResponse{
		EmbedURL:    acct.EmbedURL,
		EmbedHeight: height,
		Session:     sess,
	})
}
