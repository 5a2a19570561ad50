package main

import (
	"context"
	"log"

	"loyaltybridge/internal/db"
	"loyaltybridge/internal/handlers"
	"loyaltybridge/internal/store"

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

	lambda.Start(handlers.NewEmbedSession(store.New(ddb), logger).Handle)
}
