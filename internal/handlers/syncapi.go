package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"loyaltybridge/internal/partner"
	"loyaltybridge/internal/store"
	"loyaltybridge/internal/sync"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"
)

// SyncAPI is the direct operator surface: audit log reads, mapping
// lookups, and manual syncs. Unlike webhook deliveries, these calls
// answer 404 for unknown stores and mappings.
type SyncAPI struct {
	Store    *store.Store
	Pipeline *sync.Pipeline
	Log      *zap.Logger
}

func NewSyncAPI(st *store.Store, pipeline *sync.Pipeline, log *zap.Logger) *SyncAPI {
	return &SyncAPI{Store: st, Pipeline: pipeline, Log: log}
}

func (h *SyncAPI) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := req.RequestContext.HTTP.Method

	switch req.RawPath {
	case "/sync/order-logs":
		if method != "GET" {
			return errResp(405, "method not allowed")
		}
		return h.orderLogs(ctx, req)
	case "/sync/mapping":
		if method != "GET" {
			return errResp(405, "method not allowed")
		}
		return h.mapping(ctx, req)
	case "/sync/customer":
		if method != "POST" {
			return errResp(405, "method not allowed")
		}
		return h.syncCustomer(ctx, req)
	case "/sync/order":
		if method != "POST" {
			return errResp(405, "method not allowed")
		}
		return h.pushOrder(ctx, req)
	default:
		return errResp(404, "not found")
	}
}

func (h *SyncAPI) loadStore(ctx context.Context, shop string) (*store.StoreAccount, *events.APIGatewayV2HTTPResponse) {
	if strings.TrimSpace(shop) == "" {
		resp, _ := errResp(400, "shop parameter required")
		return nil, &resp
	}
	acct, err := h.Store.GetStoreAccount(ctx, shop)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			resp, _ := errResp(404, "store not found")
			return nil, &resp
		}
		h.Log.Error("failed to load store", zap.String("shop", shop), zap.Error(err))
		resp, _ := errResp(500, "internal error")
		return nil, &resp
	}
	return acct, nil
}

func (h *SyncAPI) orderLogs(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	shop := req.QueryStringParameters["shop"]
	acct, errResponse := h.loadStore(ctx, shop)
	if errResponse != nil {
		return *errResponse, nil
	}

	recs, err := h.Store.ListOrderSync(ctx, acct.Shop, req.QueryStringParameters["order_id"], 50)
	if err != nil {
		h.Log.Error("failed to list order logs", zap.String("shop", shop), zap.Error(err))
		return errResp(500, "internal error")
	}

	return jsonResp(200, map[string]any{
		"logs":  recs,
		"stats": store.Stats(recs),
	})
}

func (h *SyncAPI) mapping(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	shop := req.QueryStringParameters["shop"]
	acct, errResponse := h.loadStore(ctx, shop)
	if errResponse != nil {
		return *errResponse, nil
	}

	var m *store.CustomerMapping
	var err error

	if customerID := req.QueryStringParameters["customer_id"]; customerID != "" {
		m, err = h.Store.GetMapping(ctx, acct.Shop, customerID)
	} else if orderID := req.QueryStringParameters["order_id"]; orderID != "" {
		m, err = h.Store.MappingForOrder(ctx, acct.Shop, orderID)
	} else {
		return errResp(400, "customer_id or order_id required")
	}

	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errResp(404, "mapping not found")
		}
		h.Log.Error("mapping lookup failed", zap.String("shop", shop), zap.Error(err))
		return errResp(500, "internal error")
	}

	return jsonResp(200, m)
}

type syncCustomerRequest struct {
	Shop          string `json:"shop"`
	CustomerID    string `json:"customer_id"`
	CustomerEmail string `json:"customer_email"`
	Nickname      string `json:"nickname"`
	Mobile        string `json:"mobile"`
}

// syncCustomer is the manual path: probe, register when absent, map.
// The webhook path deliberately defers registration; this endpoint is
// how existing customers get back-filled.
func (h *SyncAPI) syncCustomer(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	var in syncCustomerRequest
	if err := json.Unmarshal(rawBody(req), &in); err != nil {
		return errResp(400, "malformed request")
	}
	if strings.TrimSpace(in.CustomerEmail) == "" {
		return errResp(400, "customer_email required")
	}

	acct, errResponse := h.loadStore(ctx, in.Shop)
	if errResponse != nil {
		return *errResponse, nil
	}
	if strings.TrimSpace(acct.PartnerBaseURL) == "" {
		return errResp(400, "partner base url not configured")
	}

	customerID := strings.TrimSpace(in.CustomerID)
	if customerID == "" {
		customerID = "email#" + strings.ToLower(strings.TrimSpace(in.CustomerEmail))
	}

	client := h.Pipeline.NewClient(acct.PartnerBaseURL, acct.PartnerAPIKey)

	if res := partner.NewResolver(client).Resolve(ctx, in.CustomerEmail); res.Exists {
		if err := h.Store.UpsertMapping(ctx, store.MappingUpdate{
			Shop:          acct.Shop,
			CustomerID:    customerID,
			Email:         in.CustomerEmail,
			Status:        store.SyncSynced,
			PartnerUserID: res.Userinfo.UserID,
		}); err != nil {
			h.Log.Error("failed to upsert mapping", zap.Error(err))
			return errResp(500, "internal error")
		}
		return jsonResp(200, map[string]any{
			"success": true,
			"message": "account already exists",
			"userId":  res.Userinfo.UserID,
		})
	}

	nickname := in.Nickname
	if nickname == "" {
		nickname = sync.EmailLocalPart(in.CustomerEmail)
	}

	userID, err := client.Register(ctx, partner.RegisterInput{
		Email:              in.CustomerEmail,
		Username:           sync.EmailLocalPart(in.CustomerEmail),
		Nickname:           nickname,
		Mobile:             in.Mobile,
		Source:             "shopify",
		ExternalCustomerID: customerID,
		Store:              acct.Shop,
	})

	if err != nil && !errors.Is(err, partner.ErrAlreadyRegistered) {
		// Failed registration still leaves a mapping so retries have
		// something to promote.
		if upErr := h.Store.UpsertMapping(ctx, store.MappingUpdate{
			Shop:       acct.Shop,
			CustomerID: customerID,
			Email:      in.CustomerEmail,
			Status:     store.SyncFailed,
			KeepSynced: true,
		}); upErr != nil {
			h.Log.Error("failed to upsert mapping", zap.Error(upErr))
		}

		var rej *partner.RejectedError
		if errors.As(err, &rej) {
			return jsonResp(200, map[string]any{"success": false, "message": rej.Msg})
		}
		return jsonResp(200, map[string]any{"success": false, "message": err.Error()})
	}

	// Lost the registration race: the account exists now, which is what
	// we wanted.
	if err := h.Store.UpsertMapping(ctx, store.MappingUpdate{
		Shop:          acct.Shop,
		CustomerID:    customerID,
		Email:         in.CustomerEmail,
		Status:        store.SyncSynced,
		PartnerUserID: userID,
	}); err != nil {
		h.Log.Error("failed to upsert mapping", zap.Error(err))
		return errResp(500, "internal error")
	}

	return jsonResp(200, map[string]any{
		"success": true,
		"message": "customer registered",
		"userId":  userID,
	})
}

type pushOrderRequest struct {
	Shop        string `json:"shop"`
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Email       string `json:"email"`
	Total       string `json:"total"`
	Currency    string `json:"currency"`
	CustomerID  string `json:"customer_id"`
}

// pushOrder re-runs the credit conversion for one order. Retry is an
// operator concern, not an internal backoff loop; the attempt ordinal
// comes from the audit history.
func (h *SyncAPI) pushOrder(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	var in pushOrderRequest
	if err := json.Unmarshal(rawBody(req), &in); err != nil {
		return errResp(400, "malformed request")
	}

	acct, errResponse := h.loadStore(ctx, in.Shop)
	if errResponse != nil {
		return *errResponse, nil
	}

	orderID, err := strconv.ParseInt(strings.TrimSpace(in.OrderID), 10, 64)
	if err != nil || orderID == 0 {
		return errResp(400, "invalid order_id")
	}
	if strings.TrimSpace(in.Email) == "" {
		return errResp(400, "email required")
	}

	ev := sync.OrderEvent{
		ID:         orderID,
		Email:      in.Email,
		TotalPrice: in.Total,
		Currency:   in.Currency,
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(in.OrderNumber), 10, 64); err == nil {
		ev.OrderNumber = n
	}
	if cid, err := strconv.ParseInt(strings.TrimSpace(in.CustomerID), 10, 64); err == nil && cid != 0 {
		ev.Customer = &sync.OrderCustomer{ID: cid, Email: in.Email}
	}

	retry, err := h.Store.CountOrderAttempts(ctx, acct.Shop, ev.OrderID())
	if err != nil {
		h.Log.Warn("failed to count prior attempts", zap.Error(err))
	}

	res := h.Pipeline.ProcessOrder(ctx, acct, ev, retry)
	return jsonResp(200, res)
}
