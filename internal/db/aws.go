package db

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

func NewDynamoClient(ctx context.Context) (*dynamodb.Client, error) {
	// Uses Lambda’s execution role creds automatically
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg), nil
}

func NewSNSClient(ctx context.Context) (*sns.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(cfg), nil
}

func StoresTableName() string {
	return os.Getenv("STORES_TABLE")
}

func CustomerMappingsTableName() string {
	return os.Getenv("CUSTOMER_MAPPINGS_TABLE")
}

func OrderSyncTableName() string {
	return os.Getenv("ORDER_SYNC_TABLE")
}

func WebhookDedupeTableName() string {
	return os.Getenv("WEBHOOK_DEDUPE_TABLE")
}
