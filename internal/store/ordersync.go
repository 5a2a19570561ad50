package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// AppendOrderSync writes one audit record for one sync attempt. The
// attempt id makes the key unique, and the conditional put guarantees
// an existing record is never overwritten: the log is append-only.
func (s *Store) AppendOrderSync(ctx context.Context, shop string, rec *OrderSyncRecord) error {
	if strings.TrimSpace(s.OrderTable) == "" {
		return fmt.Errorf("ORDER_SYNC_TABLE not set")
	}
	if strings.TrimSpace(shop) == "" || strings.TrimSpace(rec.OrderID) == "" {
		return fmt.Errorf("missing shop/order id")
	}

	rec.PK = storePK(shop)
	rec.SK = orderSKPrefix(rec.OrderID) + uuid.NewString()
	if rec.CreatedAt == "" {
		rec.CreatedAt = nowISO()
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return err
	}

	_, err = s.DB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.OrderTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	return err
}

// ListOrderSync returns sync records newest-first. An empty orderID
// lists across all of the store's orders.
func (s *Store) ListOrderSync(ctx context.Context, shop, orderID string, limit int32) ([]OrderSyncRecord, error) {
	if strings.TrimSpace(s.OrderTable) == "" {
		return nil, fmt.Errorf("ORDER_SYNC_TABLE not set")
	}

	prefix := "ORDER#"
	if strings.TrimSpace(orderID) != "" {
		prefix = orderSKPrefix(orderID)
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.OrderTable),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: storePK(shop)},
			":sk": &types.AttributeValueMemberS{Value: prefix},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(limit)
	}

	out, err := s.DB.Query(ctx, in)
	if err != nil {
		return nil, err
	}

	recs := make([]OrderSyncRecord, 0, len(out.Items))
	for _, item := range out.Items {
		var r OrderSyncRecord
		if err := attributevalue.UnmarshalMap(item, &r); err != nil {
			continue
		}
		recs = append(recs, r)
	}
	return recs, nil
}

// CountOrderAttempts returns how many sync attempts exist for an order.
// A manual re-push uses this as its retry count.
func (s *Store) CountOrderAttempts(ctx context.Context, shop, orderID string) (int, error) {
	if strings.TrimSpace(s.OrderTable) == "" {
		return 0, fmt.Errorf("ORDER_SYNC_TABLE not set")
	}

	out, err := s.DB.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.OrderTable),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: storePK(shop)},
			":sk": &types.AttributeValueMemberS{Value: orderSKPrefix(orderID)},
		},
		Select: types.SelectCount,
	})
	if err != nil {
		return 0, err
	}
	return int(out.Count), nil
}

// Stats tallies statuses for an order-log listing.
func Stats(recs []OrderSyncRecord) OrderSyncStats {
	st := OrderSyncStats{Total: len(recs)}
	for _, r := range recs {
		switch r.Status {
		case OrderSuccess:
			st.Success++
		case OrderFailed:
			st.Failed++
		case OrderPending:
			st.Pending++
		}
	}
	return st
}
