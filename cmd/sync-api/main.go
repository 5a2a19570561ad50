package main

import (
	"context"
	"log"

	"loyaltybridge/internal/db"
	"loyaltybridge/internal/handlers"
	"loyaltybridge/internal/store"
	"loyaltybridge/internal/sync"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		logger.Fatal("init dynamo client", zap.Error(err))
	}
	snsClient, err := db.NewSNSClient(ctx)
	if err != nil {
		logger.Fatal("init sns client", zap.Error(err))
	}

	st := store.New(ddb)
	notifier := sync.NewNotifierFromEnv(snsClient, logger)
	pipeline := sync.NewPipeline(st, notifier, logger)

	lambda.Start(handlers.NewSyncAPI(st, pipeline, logger).Handle)
}
