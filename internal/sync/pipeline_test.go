package sync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"loyaltybridge/internal/store"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memDynamo is a minimal in-memory store.DynamoAPI for pipeline tests.
type memDynamo struct {
	items        map[string]map[string]types.AttributeValue
	putInputs    []*dynamodb.PutItemInput
	updateInputs []*dynamodb.UpdateItemInput
}

func newMemDynamo() *memDynamo {
	return &memDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func memKey(attrs map[string]types.AttributeValue) string {
	k := ""
	if pk, ok := attrs["PK"].(*types.AttributeValueMemberS); ok {
		k = pk.Value
	}
	if sk, ok := attrs["SK"].(*types.AttributeValueMemberS); ok {
		k += "|" + sk.Value
	}
	return k
}

func (m *memDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInputs = append(m.putInputs, in)
	m.items[memKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *memDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if item, ok := m.items[memKey(in.Key)]; ok {
		return &dynamodb.GetItemOutput{Item: item}, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *memDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, in)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *memDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(m.items, memKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *memDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return &dynamodb.QueryOutput{}, nil
}

// auditRecords picks the order sync records out of the fake's puts.
func (m *memDynamo) auditRecords(t *testing.T) []store.OrderSyncRecord {
	t.Helper()
	var recs []store.OrderSyncRecord
	for _, in := range m.putInputs {
		if in.TableName == nil || *in.TableName != "ordersync" {
			continue
		}
		status, _ := in.Item["Status"].(*types.AttributeValueMemberS)
		orderID, _ := in.Item["OrderID"].(*types.AttributeValueMemberS)
		rec := store.OrderSyncRecord{}
		if status != nil {
			rec.Status = status.Value
		}
		if orderID != nil {
			rec.OrderID = orderID.Value
		}
		if msg, ok := in.Item["ErrorMessage"].(*types.AttributeValueMemberS); ok {
			rec.ErrorMessage = msg.Value
		}
		if raw, ok := in.Item["PartnerResponse"].(*types.AttributeValueMemberS); ok {
			rec.PartnerResponse = raw.Value
		}
		recs = append(recs, rec)
	}
	return recs
}

type fakeSNS struct {
	published int32
}

func (f *fakeSNS) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	atomic.AddInt32(&f.published, 1)
	return &sns.PublishOutput{}, nil
}

func testPipeline(m *memDynamo, notifier *Notifier) *Pipeline {
	st := &store.Store{
		DB:            m,
		StoresTable:   "stores",
		MappingsTable: "mappings",
		OrderTable:    "ordersync",
	}
	return NewPipeline(st, notifier, zap.NewNop())
}

func enabledAccount(baseURL string) *store.StoreAccount {
	return &store.StoreAccount{
		Shop:           "demo.myshopify.com",
		PartnerBaseURL: baseURL,
		AutoRegister:   true,
	}
}

func testOrder() OrderEvent {
	return OrderEvent{
		ID:          1001,
		OrderNumber: 1001,
		Email:       "a@b.com",
		TotalPrice:  "49.90",
		Currency:    "USD",
		Customer:    &OrderCustomer{ID: 7001, Email: "a@b.com"},
	}
}

// partnerMock answers emailLogin and exchangeLoveCoin and counts calls.
func partnerMock(t *testing.T, loginBody, exchangeBody string, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		switch r.URL.Path {
		case "/api/user/emailLogin":
			w.Write([]byte(loginBody))
		case "/api/user/exchangeLoveCoin":
			w.Write([]byte(exchangeBody))
		default:
			t.Errorf("unexpected partner call: %s", r.URL.Path)
		}
	}))
}

func TestProcessOrderDisabledIsConfigNoop(t *testing.T) {
	var calls int32
	srv := partnerMock(t, `{"code":1}`, `{"code":1}`, &calls)
	defer srv.Close()

	m := newMemDynamo()
	p := testPipeline(m, nil)

	acct := enabledAccount(srv.URL)
	acct.AutoRegister = false

	res := p.ProcessOrder(context.Background(), acct, testOrder(), 0)

	assert.Equal(t, ResultDisabled, res.Status)
	assert.Zero(t, atomic.LoadInt32(&calls), "disabled store must not call the partner")
	assert.Empty(t, m.auditRecords(t), "disabled store must not write an audit record")
}

func TestProcessOrderNoBaseURLIsConfigNoop(t *testing.T) {
	m := newMemDynamo()
	p := testPipeline(m, nil)

	res := p.ProcessOrder(context.Background(), enabledAccount(""), testOrder(), 0)

	assert.Equal(t, ResultDisabled, res.Status)
	assert.Empty(t, m.auditRecords(t))
}

func TestProcessOrderInvalidAmount(t *testing.T) {
	var calls int32
	srv := partnerMock(t, `{"code":1}`, `{"code":1}`, &calls)
	defer srv.Close()

	m := newMemDynamo()
	p := testPipeline(m, nil)

	ord := testOrder()
	ord.TotalPrice = "-5"

	res := p.ProcessOrder(context.Background(), enabledAccount(srv.URL), ord, 0)

	assert.Equal(t, ResultFailed, res.Status)
	assert.Zero(t, atomic.LoadInt32(&calls), "invalid amount must not reach the partner")

	recs := m.auditRecords(t)
	require.Len(t, recs, 1)
	assert.Equal(t, store.OrderFailed, recs[0].Status)
	assert.Contains(t, recs[0].ErrorMessage, "invalid order amount")
}

func TestProcessOrderSuccessEndToEnd(t *testing.T) {
	var calls int32
	srv := partnerMock(t,
		`{"code":1,"data":{"userinfo":{"user_id":42,"token":"abc"}}}`,
		`{"code":1,"msg":"ok"}`,
		&calls)
	defer srv.Close()

	m := newMemDynamo()
	p := testPipeline(m, nil)

	res := p.ProcessOrder(context.Background(), enabledAccount(srv.URL), testOrder(), 0)

	assert.Equal(t, ResultSuccess, res.Status)
	assert.Equal(t, 49.90, res.Credits)

	recs := m.auditRecords(t)
	require.Len(t, recs, 1)
	assert.Equal(t, store.OrderSuccess, recs[0].Status)
	assert.Equal(t, "1001", recs[0].OrderID)
	assert.Contains(t, recs[0].PartnerResponse, `"code":1`)

	// Mapping promoted to synced with the resolved partner user id.
	require.Len(t, m.updateInputs, 1)
	vals := m.updateInputs[0].ExpressionAttributeValues
	assert.Equal(t, store.SyncSynced, vals[":s"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "42", vals[":u"].(*types.AttributeValueMemberN).Value)
}

func TestProcessOrderPartnerRejection(t *testing.T) {
	var calls int32
	srv := partnerMock(t,
		`{"code":0,"msg":"not registered"}`,
		`{"code":0,"msg":"exchange quota exceeded"}`,
		&calls)
	defer srv.Close()

	notifierSNS := &fakeSNS{}
	notifier := &Notifier{SNS: notifierSNS, FailureTopicArn: "arn:aws:sns:us-east-1:1:alerts", Log: zap.NewNop()}

	m := newMemDynamo()
	p := testPipeline(m, notifier)

	res := p.ProcessOrder(context.Background(), enabledAccount(srv.URL), testOrder(), 0)

	assert.Equal(t, ResultFailed, res.Status)
	// Partner message preserved verbatim for operators.
	assert.Equal(t, "exchange quota exceeded", res.Message)

	recs := m.auditRecords(t)
	require.Len(t, recs, 1)
	assert.Equal(t, store.OrderFailed, recs[0].Status)
	assert.Contains(t, recs[0].PartnerResponse, "exchange quota exceeded")

	// Mapping marked failed, but only via the no-downgrade write.
	require.Len(t, m.updateInputs, 1)
	in := m.updateInputs[0]
	assert.Equal(t, store.SyncFailed, in.ExpressionAttributeValues[":s"].(*types.AttributeValueMemberS).Value)
	require.NotNil(t, in.ConditionExpression)

	assert.Equal(t, int32(1), atomic.LoadInt32(&notifierSNS.published))
}

func TestProcessOrderPartnerUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	m := newMemDynamo()
	p := testPipeline(m, nil)

	res := p.ProcessOrder(context.Background(), enabledAccount(srv.URL), testOrder(), 0)

	assert.Equal(t, ResultFailed, res.Status)
	recs := m.auditRecords(t)
	require.Len(t, recs, 1)
	assert.Equal(t, store.OrderFailed, recs[0].Status)
	assert.Contains(t, recs[0].ErrorMessage, "partner unavailable")
}

func TestProcessOrderStoreRateOverride(t *testing.T) {
	var gotMoney float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/user/emailLogin":
			w.Write([]byte(`{"code":0,"msg":"nope"}`))
		case "/api/user/exchangeLoveCoin":
			body, _ := io.ReadAll(r.Body)
			var req map[string]any
			require.NoError(t, json.Unmarshal(body, &req))
			gotMoney = req["money"].(float64)
			w.Write([]byte(`{"code":1,"msg":"ok"}`))
		}
	}))
	defer srv.Close()

	m := newMemDynamo()
	p := testPipeline(m, nil)

	acct := enabledAccount(srv.URL)
	acct.CreditRate = 2

	ord := testOrder()
	ord.TotalPrice = "10.00"

	res := p.ProcessOrder(context.Background(), acct, ord, 0)

	assert.Equal(t, ResultSuccess, res.Status)
	assert.Equal(t, 20.0, res.Credits)
	assert.Equal(t, 20.0, gotMoney)
}

func TestProcessOrderDuplicateAttemptsBothAudited(t *testing.T) {
	var calls int32
	srv := partnerMock(t,
		`{"code":0,"msg":"nope"}`,
		`{"code":1,"msg":"ok"}`,
		&calls)
	defer srv.Close()

	m := newMemDynamo()
	p := testPipeline(m, nil)

	acct := enabledAccount(srv.URL)
	ord := testOrder()

	p.ProcessOrder(context.Background(), acct, ord, 0)
	p.ProcessOrder(context.Background(), acct, ord, 0)

	// Redelivery is not suppressed at this layer; both grants appear in
	// the audit log so operators can spot the duplicate.
	assert.Len(t, m.auditRecords(t), 2)
}
