package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ClaimWebhook records a delivery id so byte-identical redeliveries can
// be skipped. Returns (isDuplicate, error). Best-effort only: with no
// dedupe table configured or no delivery id, processing proceeds.
// Distinct attempts for the same order are never suppressed here, they
// each get their own audit record.
func (s *Store) ClaimWebhook(ctx context.Context, webhookID, shop, topic string) (bool, error) {
	tbl := strings.TrimSpace(s.DedupeTable)
	if tbl == "" {
		return false, nil
	}
	webhookID = strings.TrimSpace(webhookID)
	if webhookID == "" {
		return false, nil
	}

	// TTL: keep dedupe records for 7 days
	exp := time.Now().UTC().Add(7 * 24 * time.Hour).Unix()

	_, err := s.DB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tbl),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: fmt.Sprintf("WH#%s", webhookID)},
			"Shop":      &types.AttributeValueMemberS{Value: shop},
			"Topic":     &types.AttributeValueMemberS{Value: topic},
			"CreatedAt": &types.AttributeValueMemberS{Value: nowISO()},
			"ExpiresAt": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", exp)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return true, nil
		}
		return false, err
	}

	return false, nil
}

// ReleaseWebhook drops a claimed delivery id. Called when processing
// fails after the claim so the platform's redelivery is processed
// instead of acked as a duplicate. Same no-op posture as ClaimWebhook
// when the table or id is unset.
func (s *Store) ReleaseWebhook(ctx context.Context, webhookID string) error {
	tbl := strings.TrimSpace(s.DedupeTable)
	webhookID = strings.TrimSpace(webhookID)
	if tbl == "" || webhookID == "" {
		return nil
	}

	_, err := s.DB.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(tbl),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("WH#%s", webhookID)},
		},
	})
	return err
}
