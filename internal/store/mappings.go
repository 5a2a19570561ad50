package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MappingUpdate is one idempotent upsert of a customer mapping.
type MappingUpdate struct {
	Shop          string
	CustomerID    string
	Email         string
	Status        string
	PartnerUserID int64 // 0 leaves the stored value untouched

	// KeepSynced makes the write conditional: a mapping already
	// `synced` is not downgraded. An order that fails today doesn't
	// unlink a customer a past order already synced.
	KeepSynced bool
}

// UpsertMapping creates or updates the (customer, store) row in a
// single UpdateItem. It is one conditional write, never read-then-
// write, so concurrent order events for the same customer can't lose
// updates. Calling it twice with identical arguments leaves one row.
func (s *Store) UpsertMapping(ctx context.Context, m MappingUpdate) error {
	if strings.TrimSpace(s.MappingsTable) == "" {
		return fmt.Errorf("CUSTOMER_MAPPINGS_TABLE not set")
	}
	if strings.TrimSpace(m.Shop) == "" || strings.TrimSpace(m.CustomerID) == "" {
		return fmt.Errorf("missing shop/customer id")
	}

	updateExpr := "SET CustomerID=:c, Email=:e, SyncStatus=:s, LastSyncedAt=:t"
	exprVals := map[string]types.AttributeValue{
		":c": &types.AttributeValueMemberS{Value: m.CustomerID},
		":e": &types.AttributeValueMemberS{Value: m.Email},
		":s": &types.AttributeValueMemberS{Value: m.Status},
		":t": &types.AttributeValueMemberS{Value: nowISO()},
	}

	if m.PartnerUserID != 0 {
		updateExpr += ", PartnerUserID=:u"
		exprVals[":u"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", m.PartnerUserID)}
	}

	in := &dynamodb.UpdateItemInput{
		TableName: aws.String(s.MappingsTable),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: storePK(m.Shop)},
			"SK": &types.AttributeValueMemberS{Value: customerSK(m.CustomerID)},
		},
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeValues: exprVals,
	}

	if m.KeepSynced {
		in.ConditionExpression = aws.String("attribute_not_exists(SyncStatus) OR SyncStatus <> :synced")
		exprVals[":synced"] = &types.AttributeValueMemberS{Value: SyncSynced}
	}

	if _, err := s.DB.UpdateItem(ctx, in); err != nil {
		var cfe *types.ConditionalCheckFailedException
		if m.KeepSynced && errors.As(err, &cfe) {
			// Already synced; leaving it alone is the point.
			return nil
		}
		return err
	}

	return nil
}

// GetMapping looks up the mapping for one platform customer.
func (s *Store) GetMapping(ctx context.Context, shop, customerID string) (*CustomerMapping, error) {
	if strings.TrimSpace(s.MappingsTable) == "" {
		return nil, fmt.Errorf("CUSTOMER_MAPPINGS_TABLE not set")
	}

	out, err := s.DB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.MappingsTable),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: storePK(shop)},
			"SK": &types.AttributeValueMemberS{Value: customerSK(customerID)},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var m CustomerMapping
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// MappingForOrder resolves a mapping through an order's customer
// reference: newest sync record for the order, then its customer id.
func (s *Store) MappingForOrder(ctx context.Context, shop, orderID string) (*CustomerMapping, error) {
	recs, err := s.ListOrderSync(ctx, shop, orderID, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 || strings.TrimSpace(recs[0].CustomerID) == "" {
		return nil, ErrNotFound
	}
	return s.GetMapping(ctx, shop, recs[0].CustomerID)
}
