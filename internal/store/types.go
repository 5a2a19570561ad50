// Package store persists store accounts, customer mappings, and the
// order sync audit log in DynamoDB.
package store

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

var ErrNotFound = errors.New("not found")

// Customer mapping sync statuses.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncFailed  = "failed"
)

// Order sync attempt statuses.
const (
	OrderPending = "pending"
	OrderSuccess = "success"
	OrderFailed  = "failed"
)

// DynamoAPI is the slice of the DynamoDB client the store uses; tests
// substitute a fake.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// StoreAccount is one connected storefront. Secrets live encrypted at
// rest (AES-GCM); the decrypted values are populated on load and never
// written back.
type StoreAccount struct {
	PK string `dynamodbav:"PK" json:"-"`

	Shop             string  `dynamodbav:"Shop" json:"shop"`
	PartnerBaseURL   string  `dynamodbav:"PartnerBaseURL" json:"partnerBaseUrl"`
	PartnerAPIKeyEnc string  `dynamodbav:"PartnerAPIKeyEnc,omitempty" json:"-"`
	SSOSecretEnc     string  `dynamodbav:"SSOSecretEnc,omitempty" json:"-"`
	AutoRegister     bool    `dynamodbav:"AutoRegister" json:"autoRegister"`
	SSOEnabled       bool    `dynamodbav:"SSOEnabled" json:"ssoEnabled"`
	CreditRate       float64 `dynamodbav:"CreditRate,omitempty" json:"creditRate,omitempty"`
	EmbedURL         string  `dynamodbav:"EmbedURL,omitempty" json:"embedUrl,omitempty"`
	EmbedHeight      int     `dynamodbav:"EmbedHeight,omitempty" json:"embedHeight,omitempty"`
	AlertsTopicArn   string  `dynamodbav:"AlertsTopicArn,omitempty" json:"-"`
	InstalledAt      string  `dynamodbav:"InstalledAt" json:"installedAt"`
	UpdatedAt        string  `dynamodbav:"UpdatedAt" json:"updatedAt"`

	// Decrypted at load time, excluded from marshalling.
	PartnerAPIKey string `dynamodbav:"-" json:"-"`
	SSOSecret     string `dynamodbav:"-" json:"-"`
}

// CustomerMapping is the durable correspondence between a platform
// customer and a partner account. Unique per (customer, store) by key
// construction.
type CustomerMapping struct {
	PK string `dynamodbav:"PK" json:"-"`
	SK string `dynamodbav:"SK" json:"-"`

	CustomerID    string `dynamodbav:"CustomerID" json:"customerId"`
	Email         string `dynamodbav:"Email" json:"email"`
	PartnerUserID int64  `dynamodbav:"PartnerUserID,omitempty" json:"partnerUserId,omitempty"`
	SyncStatus    string `dynamodbav:"SyncStatus" json:"syncStatus"`
	LastSyncedAt  string `dynamodbav:"LastSyncedAt,omitempty" json:"lastSyncedAt,omitempty"`
}

// OrderSyncRecord is one sync attempt for one order. Records are
// append-only: a retry writes a new record, never mutates an old one.
type OrderSyncRecord struct {
	PK string `dynamodbav:"PK" json:"-"`
	SK string `dynamodbav:"SK" json:"attemptId"`

	OrderID         string  `dynamodbav:"OrderID" json:"orderId"`
	OrderNumber     string  `dynamodbav:"OrderNumber,omitempty" json:"orderNumber,omitempty"`
	CustomerID      string  `dynamodbav:"CustomerID,omitempty" json:"customerId,omitempty"`
	Email           string  `dynamodbav:"Email" json:"email"`
	Amount          float64 `dynamodbav:"Amount" json:"amount"`
	Currency        string  `dynamodbav:"Currency" json:"currency"`
	Credits         float64 `dynamodbav:"Credits,omitempty" json:"credits,omitempty"`
	Status          string  `dynamodbav:"Status" json:"status"`
	ErrorMessage    string  `dynamodbav:"ErrorMessage,omitempty" json:"errorMessage,omitempty"`
	PartnerResponse string  `dynamodbav:"PartnerResponse,omitempty" json:"partnerResponse,omitempty"`
	RetryCount      int     `dynamodbav:"RetryCount" json:"retryCount"`
	CreatedAt       string  `dynamodbav:"CreatedAt" json:"createdAt"`
}

// OrderSyncStats summarizes an order log listing.
type OrderSyncStats struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}
