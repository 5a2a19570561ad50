package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"loyaltybridge/internal/db"
	"loyaltybridge/internal/security"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Store bundles the DynamoDB client, table names, the at-rest
// encryption key, and the optional settings cache.
type Store struct {
	DB            DynamoAPI
	StoresTable   string
	MappingsTable string
	OrderTable    string
	DedupeTable   string
	EncKey        []byte
	Cache         *SettingsCache
}

// New builds a Store from the environment: table names from their env
// vars, the encryption key from SECRETS_ENC_KEY_B64, and the redis
// cache if REDIS_URL is set.
func New(ddb DynamoAPI) *Store {
	s := &Store{
		DB:            ddb,
		StoresTable:   db.StoresTableName(),
		MappingsTable: db.CustomerMappingsTableName(),
		OrderTable:    db.OrderSyncTableName(),
		DedupeTable:   db.WebhookDedupeTableName(),
		Cache:         NewSettingsCacheFromEnv(),
	}

	if b64 := strings.TrimSpace(os.Getenv("SECRETS_ENC_KEY_B64")); b64 != "" {
		if key, err := security.LoadKeyFromBase64(b64); err == nil {
			s.EncKey = key
		}
	}

	return s
}

func storePK(shop string) string {
	return fmt.Sprintf("SHOP#%s", shop)
}

func customerSK(customerID string) string {
	return fmt.Sprintf("CUSTOMER#%s", customerID)
}

func orderSKPrefix(orderID string) string {
	return fmt.Sprintf("ORDER#%s#ATTEMPT#", orderID)
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// GetStoreAccount loads one storefront, decrypting its secrets. Returns
// ErrNotFound for unknown shops.
func (s *Store) GetStoreAccount(ctx context.Context, shop string) (*StoreAccount, error) {
	shop = strings.TrimSpace(shop)
	if shop == "" {
		return nil, ErrNotFound
	}
	if strings.TrimSpace(s.StoresTable) == "" {
		return nil, fmt.Errorf("STORES_TABLE not set")
	}

	if acct := s.Cache.Get(ctx, shop); acct != nil {
		s.decryptSecrets(acct)
		return acct, nil
	}

	out, err := s.DB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.StoresTable),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: storePK(shop)},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var acct StoreAccount
	if err := attributevalue.UnmarshalMap(out.Item, &acct); err != nil {
		return nil, err
	}

	s.Cache.Set(ctx, shop, &acct)
	s.decryptSecrets(&acct)
	return &acct, nil
}

func (s *Store) decryptSecrets(acct *StoreAccount) {
	if len(s.EncKey) == 0 {
		return
	}
	if enc := strings.TrimSpace(acct.PartnerAPIKeyEnc); enc != "" {
		if v, err := security.DecryptAESGCM(s.EncKey, enc); err == nil {
			acct.PartnerAPIKey = v
		}
	}
	if enc := strings.TrimSpace(acct.SSOSecretEnc); enc != "" {
		if v, err := security.DecryptAESGCM(s.EncKey, enc); err == nil {
			acct.SSOSecret = v
		}
	}
}

// PutStoreAccount writes the account, encrypting any plaintext secrets
// first. Used on install and re-auth.
func (s *Store) PutStoreAccount(ctx context.Context, acct *StoreAccount) error {
	if strings.TrimSpace(acct.Shop) == "" {
		return fmt.Errorf("missing shop domain")
	}
	if strings.TrimSpace(s.StoresTable) == "" {
		return fmt.Errorf("STORES_TABLE not set")
	}

	if len(s.EncKey) > 0 {
		if acct.PartnerAPIKey != "" {
			enc, err := security.EncryptAESGCM(s.EncKey, acct.PartnerAPIKey)
			if err != nil {
				return fmt.Errorf("encrypt partner api key: %w", err)
			}
			acct.PartnerAPIKeyEnc = enc
		}
		if acct.SSOSecret != "" {
			enc, err := security.EncryptAESGCM(s.EncKey, acct.SSOSecret)
			if err != nil {
				return fmt.Errorf("encrypt sso secret: %w", err)
			}
			acct.SSOSecretEnc = enc
		}
	}

	acct.PK = storePK(acct.Shop)
	acct.UpdatedAt = nowISO()
	if acct.InstalledAt == "" {
		acct.InstalledAt = acct.UpdatedAt
	}

	item, err := attributevalue.MarshalMap(acct)
	if err != nil {
		return err
	}

	if _, err := s.DB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.StoresTable),
		Item:      item,
	}); err != nil {
		return err
	}

	s.Cache.Del(ctx, acct.Shop)
	return nil
}

// DeleteStoreAccount removes the account row only. Cascaded records are
// purged by the uninstall worker.
func (s *Store) DeleteStoreAccount(ctx context.Context, shop string) error {
	if strings.TrimSpace(s.StoresTable) == "" {
		return fmt.Errorf("STORES_TABLE not set")
	}

	_, err := s.DB.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.StoresTable),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: storePK(shop)},
		},
	})
	if err != nil {
		return err
	}

	s.Cache.Del(ctx, shop)
	return nil
}

// PurgeStoreRecords deletes all mappings and order sync records for an
// uninstalled store. Paginates until the partitions are empty.
func (s *Store) PurgeStoreRecords(ctx context.Context, shop string) (deleted int, err error) {
	for _, tbl := range []string{s.MappingsTable, s.OrderTable} {
		if strings.TrimSpace(tbl) == "" {
			continue
		}
		n, err := s.purgePartition(ctx, tbl, storePK(shop))
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func (s *Store) purgePartition(ctx context.Context, table, pk string) (int, error) {
	deleted := 0
	var startKey map[string]types.AttributeValue

	for {
		out, err := s.DB.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(table),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: pk},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return deleted, err
		}

		for _, item := range out.Items {
			sk, ok := item["SK"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			if _, err := s.DB.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(table),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: pk},
					"SK": &types.AttributeValueMemberS{Value: sk.Value},
				},
			}); err != nil {
				return deleted, err
			}
			deleted++
		}

		if out.LastEvaluatedKey == nil {
			return deleted, nil
		}
		startKey = out.LastEvaluatedKey
	}
}
