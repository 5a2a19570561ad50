// Package handlers is the API Gateway surface: webhook intake, the
// embed session endpoint, and the operator sync API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"loyaltybridge/internal/security"
	"loyaltybridge/internal/store"
	"loyaltybridge/internal/sync"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"
)

const (
	hdrSignature  = "x-shopify-hmac-sha256"
	hdrShopDomain = "x-shopify-shop-domain"
	hdrWebhookID  = "x-shopify-webhook-id"
)

// Webhooks handles verified platform events. Signature verification
// happens before anything touches persistent state; it is the sole
// gate against forged synchronization traffic.
type Webhooks struct {
	Store      *store.Store
	Dispatcher *sync.Dispatcher
	Secret     string
	Log        *zap.Logger
}

func NewWebhooks(st *store.Store, d *sync.Dispatcher, log *zap.Logger) *Webhooks {
	return &Webhooks{
		Store:      st,
		Dispatcher: d,
		Secret:     os.Getenv("SHOPIFY_API_SECRET"),
		Log:        log,
	}
}

func (h *Webhooks) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if req.RequestContext.HTTP.Method != "POST" {
		return errResp(405, "method not allowed")
	}

	raw := rawBody(req)

	if !security.VerifyWebhookSignature(raw, header(req, hdrSignature), h.Secret) {
		h.Log.Warn("rejected webhook with invalid signature", zap.String("path", req.RawPath))
		return errResp(401, "invalid signature")
	}

	shop := header(req, hdrShopDomain)
	if shop == "" {
		return errResp(400, "missing shop domain header")
	}

	// Best-effort claim on the delivery id: a byte-identical
	// redelivery is acked without reprocessing. The claim is released
	// again on any non-2xx outcome so a transient failure never turns
	// a redelivery into a false duplicate.
	if dup, err := h.Store.ClaimWebhook(ctx, header(req, hdrWebhookID), shop, req.RawPath); err != nil {
		h.Log.Warn("webhook dedupe claim failed", zap.Error(err))
	} else if dup {
		return jsonResp(200, sync.Ack{Success: true, Message: "duplicate delivery"})
	}

	var ack sync.Ack
	var dispatchErr error

	switch req.RawPath {
	case "/webhooks/customers-create":
		var ev sync.CustomerEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			h.releaseClaim(ctx, req)
			return errResp(400, "malformed customer payload")
		}
		ack, dispatchErr = h.Dispatcher.CustomerCreated(ctx, shop, ev)

	case "/webhooks/orders-create":
		var ev sync.OrderEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			h.releaseClaim(ctx, req)
			return errResp(400, "malformed order payload")
		}
		ack, dispatchErr = h.Dispatcher.OrderCreated(ctx, shop, ev)

	case "/webhooks/app-uninstalled":
		ack, dispatchErr = h.Dispatcher.AppUninstalled(ctx, shop)

	default:
		h.releaseClaim(ctx, req)
		return errResp(404, "not found")
	}

	if dispatchErr != nil {
		h.releaseClaim(ctx, req)
	}
	return h.respond(ack, dispatchErr)
}

func (h *Webhooks) releaseClaim(ctx context.Context, req events.APIGatewayV2HTTPRequest) {
	if err := h.Store.ReleaseWebhook(ctx, header(req, hdrWebhookID)); err != nil {
		h.Log.Warn("webhook dedupe release failed", zap.Error(err))
	}
}

// respond maps dispatcher outcomes to HTTP. Business failures stay
// 200-class so the platform doesn't retry-storm; only an unknown store
// earns a non-2xx.
func (h *Webhooks) respond(ack sync.Ack, err error) (events.APIGatewayV2HTTPResponse, error) {
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errResp(404, "store not found")
		}
		h.Log.Error("webhook dispatch failed", zap.Error(err))
		return errResp(500, "internal error")
	}
	return jsonResp(200, ack)
}
