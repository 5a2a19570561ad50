// Package partner is the HTTP client for the loyalty partner API.
// All endpoints speak JSON and answer with {code, msg, data}; code 1
// is the only success code.
package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// codeOK is the partner's single success code.
	codeOK = 1

	defaultProbeTimeout  = 5 * time.Second
	defaultMutateTimeout = 10 * time.Second
)

// ErrUnavailable wraps transport errors and timeouts: the partner could
// not be reached at all, as opposed to answering with a failure code.
var ErrUnavailable = errors.New("partner unavailable")

// ErrAlreadyRegistered is returned by Register when the partner rejects
// a duplicate email. Callers treat it as "account exists", not failure:
// two concurrent events for a new customer may both probe, both see
// not-exists, and both register.
var ErrAlreadyRegistered = errors.New("email already registered")

// RejectedError is a business-failure answer from the partner. Msg is
// preserved verbatim for operator diagnosis.
type RejectedError struct {
	Code int
	Msg  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("partner rejected (code %d): %s", e.Code, e.Msg)
}

// Userinfo is the account payload the partner returns on email login.
type Userinfo struct {
	ID         int64   `json:"id"`
	UserID     int64   `json:"user_id"`
	Username   string  `json:"username"`
	Nickname   string  `json:"nickname"`
	Mobile     string  `json:"mobile"`
	Avatar     string  `json:"avatar"`
	Score      float64 `json:"score"`
	Token      string  `json:"token"`
	CreateTime int64   `json:"createtime"`
	ExpireTime int64   `json:"expiretime"`
	ExpiresIn  int64   `json:"expires_in"`
}

type RegisterInput struct {
	Email              string `json:"email"`
	Username           string `json:"username"`
	Nickname           string `json:"nickname"`
	Mobile             string `json:"mobile"`
	Source             string `json:"source"`
	ExternalCustomerID string `json:"external_customer_id"`
	Store              string `json:"store"`
}

// ExchangeResult carries the partner's answer to a credit exchange,
// including the raw body for the audit record.
type ExchangeResult struct {
	Code    int
	Msg     string
	RawBody []byte
}

// Client talks to one store's configured partner base URL. It is
// injected everywhere the pipeline needs the partner, so tests swap in
// an httptest server instead of a process-global transport.
type Client struct {
	BaseURL       string
	APIKey        string
	HTTPClient    *http.Client
	ProbeTimeout  time.Duration
	MutateTimeout time.Duration
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:       strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:        apiKey,
		HTTPClient:    &http.Client{},
		ProbeTimeout:  defaultProbeTimeout,
		MutateTimeout: defaultMutateTimeout,
	}
}

type envelope struct {
	Code *int            `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// post issues one JSON call with a per-call timeout and returns the
// decoded envelope plus the raw body. Transport errors and timeouts
// come back wrapped in ErrUnavailable.
func (c *Client) post(ctx context.Context, path string, payload any, timeout time.Duration) (*envelope, []byte, error) {
	if c.BaseURL == "" {
		return nil, nil, fmt.Errorf("%w: no base url configured", ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, raw, &RejectedError{Code: -res.StatusCode, Msg: fmt.Sprintf("http %d: %s", res.StatusCode, string(raw))}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Code == nil {
		// Duck-typed upstream; anything without a code field is a
		// rejection, not an undefined-field crash.
		return nil, raw, &RejectedError{Code: 0, Msg: "unexpected response shape: " + string(raw)}
	}

	return &env, raw, nil
}

// EmailLogin probes the partner's login-by-email endpoint. Success is
// code 1 plus a non-empty token; anything else is an error.
func (c *Client) EmailLogin(ctx context.Context, email string) (*Userinfo, error) {
	env, _, err := c.post(ctx, "/api/user/emailLogin", map[string]string{"email": email}, c.ProbeTimeout)
	if err != nil {
		return nil, err
	}
	if *env.Code != codeOK {
		return nil, &RejectedError{Code: *env.Code, Msg: env.Msg}
	}

	var data struct {
		Userinfo *Userinfo `json:"userinfo"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Userinfo == nil || strings.TrimSpace(data.Userinfo.Token) == "" {
		return nil, &RejectedError{Code: *env.Code, Msg: "login response missing userinfo token"}
	}

	return data.Userinfo, nil
}

// Register creates a partner account and returns its user id.
func (c *Client) Register(ctx context.Context, in RegisterInput) (int64, error) {
	env, _, err := c.post(ctx, "/api/user/register", in, c.MutateTimeout)
	if err != nil {
		return 0, err
	}
	if *env.Code != codeOK {
		if isAlreadyRegisteredMsg(env.Msg) {
			return 0, ErrAlreadyRegistered
		}
		return 0, &RejectedError{Code: *env.Code, Msg: env.Msg}
	}

	var data struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return 0, &RejectedError{Code: *env.Code, Msg: "register response missing user_id"}
	}

	return data.UserID, nil
}

// ExchangeCredits grants credits for an order amount. The partner calls
// this "exchanging love coins"; money is the already-converted credit
// amount. A non-success code is returned as a RejectedError alongside
// the result so callers can audit the raw payload.
func (c *Client) ExchangeCredits(ctx context.Context, email string, money float64) (*ExchangeResult, error) {
	env, raw, err := c.post(ctx, "/api/user/exchangeLoveCoin", map[string]any{
		"email": email,
		"money": money,
	}, c.MutateTimeout)
	if err != nil {
		var rej *RejectedError
		if errors.As(err, &rej) {
			return &ExchangeResult{Code: rej.Code, Msg: rej.Msg, RawBody: raw}, err
		}
		return nil, err
	}

	res := &ExchangeResult{Code: *env.Code, Msg: env.Msg, RawBody: raw}
	if *env.Code != codeOK {
		return res, &RejectedError{Code: *env.Code, Msg: env.Msg}
	}
	return res, nil
}

func isAlreadyRegisteredMsg(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "already") || strings.Contains(m, "exist") || strings.Contains(m, "registered")
}
