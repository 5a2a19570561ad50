package sync

import (
	"context"
	"errors"
	"fmt"

	"loyaltybridge/internal/store"

	"go.uber.org/zap"
)

// Ack is the 200-class webhook response body. The platform retries on
// non-2xx, so business-logic failures still acknowledge: success=false
// plus a message, never an error status that would trigger a retry
// storm.
type Ack struct {
	Success bool    `json:"success"`
	Message string  `json:"message,omitempty"`
	OrderID string  `json:"order_id,omitempty"`
	Credits float64 `json:"credits,omitempty"`
}

// Dispatcher routes verified inbound events to the right pipeline and
// enforces per-store feature flags. The returned error is non-nil only
// for conditions that warrant a non-2xx answer (unknown store).
type Dispatcher struct {
	Store    *store.Store
	Pipeline *Pipeline
	Notifier *Notifier
	Log      *zap.Logger
}

func NewDispatcher(st *store.Store, pipeline *Pipeline, notifier *Notifier, log *zap.Logger) *Dispatcher {
	return &Dispatcher{Store: st, Pipeline: pipeline, Notifier: notifier, Log: log}
}

// CustomerCreated seeds a pending mapping. Partner registration is
// lazy, deferred to the first order or first embed login, so no
// partner call happens here.
func (d *Dispatcher) CustomerCreated(ctx context.Context, shop string, ev CustomerEvent) (Ack, error) {
	acct, err := d.Store.GetStoreAccount(ctx, shop)
	if err != nil {
		return Ack{}, err
	}

	if !acct.AutoRegister {
		d.Log.Info("auto-register disabled, skipping customer seed", zap.String("shop", shop))
		return Ack{Success: true, Message: "auto-register disabled"}, nil
	}

	if ev.Email == "" || ev.ID == 0 {
		return Ack{Success: false, Message: "missing customer id or email"}, nil
	}

	if err := d.Store.UpsertMapping(ctx, store.MappingUpdate{
		Shop:       shop,
		CustomerID: ev.CustomerID(),
		Email:      ev.Email,
		Status:     store.SyncPending,
	}); err != nil {
		d.Log.Error("failed to seed customer mapping",
			zap.String("shop", shop),
			zap.String("customer_id", ev.CustomerID()),
			zap.Error(err))
		return Ack{Success: false, Message: "failed to record customer"}, nil
	}

	d.Log.Info("seeded pending customer mapping",
		zap.String("shop", shop),
		zap.String("customer_id", ev.CustomerID()))
	return Ack{Success: true, Message: "customer recorded"}, nil
}

// OrderCreated runs the credit conversion synchronously and returns
// the pipeline's result as the response body.
func (d *Dispatcher) OrderCreated(ctx context.Context, shop string, ev OrderEvent) (Ack, error) {
	acct, err := d.Store.GetStoreAccount(ctx, shop)
	if err != nil {
		return Ack{}, err
	}

	if ev.Email == "" || ev.ID == 0 {
		return Ack{Success: false, Message: "missing order id or email"}, nil
	}

	res := d.Pipeline.ProcessOrder(ctx, acct, ev, 0)

	ack := Ack{OrderID: ev.OrderID(), Message: res.Message}
	switch res.Status {
	case ResultSuccess:
		ack.Success = true
		ack.Credits = res.Credits
		ack.Message = "credits granted"
	case ResultDisabled:
		ack.Success = true
	default:
		ack.Success = false
	}
	return ack, nil
}

// AppUninstalled tears the store down: the account row goes
// immediately, the cascaded records are purged by the worker behind
// the SNS topic.
func (d *Dispatcher) AppUninstalled(ctx context.Context, shop string) (Ack, error) {
	if _, err := d.Store.GetStoreAccount(ctx, shop); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Repeat uninstall delivery; nothing left to do.
			return Ack{Success: true, Message: "store already removed"}, nil
		}
		return Ack{}, err
	}

	if err := d.Store.DeleteStoreAccount(ctx, shop); err != nil {
		return Ack{}, fmt.Errorf("delete store account: %w", err)
	}

	if err := d.Notifier.StorePurgeRequested(ctx, shop); err != nil {
		// The account is gone; purge can be replayed by an operator.
		d.Log.Error("failed to request record purge", zap.String("shop", shop), zap.Error(err))
	}

	d.Log.Info("store uninstalled", zap.String("shop", shop))
	return Ack{Success: true, Message: "store removed"}, nil
}
