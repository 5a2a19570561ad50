package sync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"loyaltybridge/internal/partner"
	"loyaltybridge/internal/store"

	"go.uber.org/zap"
)

// Pipeline result statuses.
const (
	ResultDisabled = "disabled"
	ResultSuccess  = "success"
	ResultFailed   = "failed"
)

// Result is the outcome of one order sync attempt.
type Result struct {
	Status  string  `json:"status"`
	Credits float64 `json:"credits,omitempty"`
	Message string  `json:"message,omitempty"`
}

// RateFunc converts an order amount in its currency to partner credits.
type RateFunc func(amount float64, currency string) float64

// DefaultRate is 1:1, one currency unit per credit.
func DefaultRate(amount float64, _ string) float64 {
	return amount
}

// PartnerFactory builds the API client for one store's configuration;
// tests substitute clients pointed at httptest servers.
type PartnerFactory func(baseURL, apiKey string) *partner.Client

// Pipeline turns qualifying order events into partner credit grants.
// Every attempt, success or failure, leaves exactly one audit record.
// Duplicate deliveries are audited, not suppressed: the partner API
// has no idempotency keys, so operators need the full attempt trail.
type Pipeline struct {
	Store     *store.Store
	Rate      RateFunc
	NewClient PartnerFactory
	Notifier  *Notifier
	Log       *zap.Logger
}

func NewPipeline(st *store.Store, notifier *Notifier, log *zap.Logger) *Pipeline {
	return &Pipeline{
		Store:     st,
		Rate:      DefaultRate,
		NewClient: partner.NewClient,
		Notifier:  notifier,
		Log:       log,
	}
}

func (p *Pipeline) rate(acct *store.StoreAccount) RateFunc {
	if acct.CreditRate > 0 {
		r := acct.CreditRate
		return func(amount float64, _ string) float64 { return amount * r }
	}
	if p.Rate != nil {
		return p.Rate
	}
	return DefaultRate
}

// ProcessOrder runs the conversion for one order event. retry is the
// attempt ordinal recorded in the audit log (0 for a fresh delivery).
func (p *Pipeline) ProcessOrder(ctx context.Context, acct *store.StoreAccount, ord OrderEvent, retry int) Result {
	log := p.Log.With(
		zap.String("shop", acct.Shop),
		zap.String("order_id", ord.OrderID()),
	)

	// Configuration no-op, not a failure: no partner call, no audit
	// record.
	if !acct.AutoRegister || strings.TrimSpace(acct.PartnerBaseURL) == "" {
		log.Info("order sync disabled for store")
		return Result{Status: ResultDisabled, Message: "sync disabled or partner not configured"}
	}

	rec := &store.OrderSyncRecord{
		OrderID:     ord.OrderID(),
		OrderNumber: ord.OrderRef(),
		CustomerID:  ord.CustomerID(),
		Email:       ord.Email,
		Currency:    ord.Currency,
		RetryCount:  retry,
	}

	amount, err := parseAmount(ord.TotalPrice)
	if err != nil {
		log.Warn("invalid order amount", zap.String("total_price", ord.TotalPrice))
		rec.Status = store.OrderFailed
		rec.ErrorMessage = err.Error()
		p.audit(ctx, acct, rec, log)
		return Result{Status: ResultFailed, Message: err.Error()}
	}
	rec.Amount = amount

	client := p.NewClient(acct.PartnerBaseURL, acct.PartnerAPIKey)

	// Best-effort existence probe; its outcome is recorded but never
	// blocks the exchange. The partner self-registers on first login.
	res := partner.NewResolver(client).Resolve(ctx, ord.Email)
	var partnerUserID int64
	if res.Exists {
		partnerUserID = res.Userinfo.UserID
	}
	log.Info("resolved partner account", zap.Bool("exists", res.Exists))

	credits := p.rate(acct)(amount, ord.Currency)
	rec.Credits = credits

	exch, err := client.ExchangeCredits(ctx, ord.Email, credits)
	if exch != nil {
		rec.PartnerResponse = string(exch.RawBody)
	}

	if err != nil {
		rec.Status = store.OrderFailed
		rec.ErrorMessage = errMessage(err)
		p.audit(ctx, acct, rec, log)

		p.mapOutcome(ctx, acct, ord, store.SyncFailed, partnerUserID, log)
		p.Notifier.SyncFailed(ctx, acct.AlertsTopicArn, acct.Shop, ord.OrderID(), rec.ErrorMessage)

		log.Warn("credit exchange failed", zap.Error(err))
		return Result{Status: ResultFailed, Message: rec.ErrorMessage}
	}

	rec.Status = store.OrderSuccess
	p.audit(ctx, acct, rec, log)
	p.mapOutcome(ctx, acct, ord, store.SyncSynced, partnerUserID, log)

	log.Info("order credits granted",
		zap.Float64("amount", amount),
		zap.Float64("credits", credits),
		zap.String("currency", ord.Currency))

	return Result{Status: ResultSuccess, Credits: credits}
}

// audit writes the attempt record; an audit write failure is logged
// loudly but doesn't change the sync outcome.
func (p *Pipeline) audit(ctx context.Context, acct *store.StoreAccount, rec *store.OrderSyncRecord, log *zap.Logger) {
	if err := p.Store.AppendOrderSync(ctx, acct.Shop, rec); err != nil {
		log.Error("failed to write order sync record", zap.Error(err))
	}
}

func (p *Pipeline) mapOutcome(ctx context.Context, acct *store.StoreAccount, ord OrderEvent, status string, partnerUserID int64, log *zap.Logger) {
	err := p.Store.UpsertMapping(ctx, store.MappingUpdate{
		Shop:          acct.Shop,
		CustomerID:    ord.CustomerID(),
		Email:         ord.Email,
		Status:        status,
		PartnerUserID: partnerUserID,
		KeepSynced:    status == store.SyncFailed,
	})
	if err != nil {
		log.Error("failed to upsert customer mapping", zap.Error(err))
	}
}

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid order amount %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("invalid order amount %q", s)
	}
	return v, nil
}

func errMessage(err error) string {
	var rej *partner.RejectedError
	if errors.As(err, &rej) {
		// Operators diagnose from the partner's own words.
		return rej.Msg
	}
	return err.Error()
}
