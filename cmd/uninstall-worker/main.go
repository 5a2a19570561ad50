package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"loyaltybridge/internal/db"
	"loyaltybridge/internal/store"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"
)

// snsEnvelope is the SNS -> SQS delivery wrapper. Raw message delivery
// is off on the queue subscription, so the purge request sits in Message
// as a JSON string.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

type purgeRequest struct {
	Shop string `json:"shop"`
}

var logger *zap.Logger

func handler(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		// Fail whole batch (infra issue)
		return events.SQSEventResponse{}, err
	}
	st := store.New(ddb)

	failures := make([]events.SQSBatchItemFailure, 0)

	for _, rec := range sqsEvent.Records {
		if err := processPurge(ctx, st, rec.Body); err != nil {
			logger.Warn("uninstall-worker: purge failed",
				zap.String("messageId", rec.MessageId),
				zap.Error(err))
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func processPurge(ctx context.Context, st *store.Store, body string) error {
	var env snsEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return fmt.Errorf("unmarshal sns envelope: %w", err)
	}

	msg := env.Message
	if msg == "" {
		// Raw delivery: the body itself is the purge request
		msg = body
	}

	var req purgeRequest
	if err := json.Unmarshal([]byte(msg), &req); err != nil {
		return fmt.Errorf("unmarshal purge request: %w", err)
	}

	shop := strings.TrimSpace(req.Shop)
	if shop == "" {
		return fmt.Errorf("missing shop in purge request")
	}

	deleted, err := st.PurgeStoreRecords(ctx, shop)
	if err != nil {
		return fmt.Errorf("purge store records for %s: %w", shop, err)
	}

	logger.Info("uninstall-worker: purged store records",
		zap.String("shop", shop),
		zap.Int("deleted", deleted))
	return nil
}

func main() {
	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	lambda.Start(handler)
}
