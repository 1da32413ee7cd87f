// Package fivepaisa is the reference Broker Adapter implementation
// (spec.md §6, "reference adapter"): a TOTP-login, JWT-bearer-token broker
// client with an order-status websocket stream and rate-limit backoff.
package fivepaisa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"tradeengine/internal/logger"
	"tradeengine/internal/model"
	"tradeengine/internal/xerr"
)

// Config holds the reference adapter's credentials and endpoints.
type Config struct {
	BaseURL      string
	WSURL        string
	ClientCode   string
	TOTPSecret   string
	Password     string
	AppSource    string
	RequestLimit rate.Limit
	RequestBurst int
}

type sessionToken struct {
	mu        sync.RWMutex
	bearer    string
	expiresAt time.Time
}

func (s *sessionToken) get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bearer == "" {
		return "", false
	}
	return s.bearer, time.Until(s.expiresAt) > 30*time.Second
}

func (s *sessionToken) set(token string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bearer = token
	s.expiresAt = expiresAt
}

// Client is the 5Paisa-shaped broker adapter implementing broker.Broker.
// Grounded on the teacher's plain net/http client idiom in
// market/api_client.go, generalized with TOTP login and JWT refresh.
type Client struct {
	cfg    Config
	http   *http.Client
	limiter *rate.Limiter
	log    *logger.Logger

	token sessionToken

	mu        sync.Mutex
	callbacks map[string]func(model.OrderVerificationResult)

	wsConn *websocket.Conn
}

// New constructs a fivepaisa Client. Dial establishes the websocket
// order-status stream; callers that only need HTTP order operations may
// skip it.
func New(cfg Config) *Client {
	if cfg.RequestLimit <= 0 {
		cfg.RequestLimit = 5
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = 10
	}
	return &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: 15 * time.Second},
		limiter:   rate.NewLimiter(cfg.RequestLimit, cfg.RequestBurst),
		log:       logger.With("component", "broker_fivepaisa"),
		callbacks: make(map[string]func(model.OrderVerificationResult)),
	}
}

// login performs the TOTP-based authentication flow and caches the
// resulting bearer token, refreshing automatically before expiry
// (spec.md §6, "one-time-passcode login and a short-lived bearer token
// with automatic refresh before expiry").
func (c *Client) login(ctx context.Context) (string, error) {
	if tok, fresh := c.token.get(); fresh {
		return tok, nil
	}

	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return "", xerr.Wrap(xerr.BrokerReject, "generating TOTP code", err)
	}

	body, _ := json.Marshal(map[string]string{
		"clientCode": c.cfg.ClientCode,
		"totp":       code,
		"password":   c.cfg.Password,
		"appSource":  c.cfg.AppSource,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/VendorsAPI/Service1.svc/TOTPLogin", bytes.NewReader(body))
	if err != nil {
		return "", xerr.Wrap(xerr.BrokerReject, "building login request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", xerr.Wrap(xerr.BrokerTimeout, "login request failed", err)
	}
	defer resp.Body.Close()

	var loginResp struct {
		Body struct {
			BearerToken string `json:"BearerToken"`
		} `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", xerr.Wrap(xerr.BrokerReject, "decoding login response", err)
	}
	if loginResp.Body.BearerToken == "" {
		return "", xerr.New(xerr.BrokerReject, "login did not return a bearer token")
	}

	expiresAt, err := bearerExpiry(loginResp.Body.BearerToken)
	if err != nil {
		expiresAt = time.Now().Add(8 * time.Hour)
	}
	c.token.set(loginResp.Body.BearerToken, expiresAt)
	return loginResp.Body.BearerToken, nil
}

// bearerExpiry parses the "exp" claim out of the bearer JWT without
// validating its signature (the broker, not this client, is the
// authority on validity; we only need the expiry to schedule refresh).
func bearerExpiry(bearer string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	_, _, err := parser.ParseUnverified(bearer, claims)
	if err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("no exp claim")
	}
	return exp.Time, nil
}

// backoffSchedule is the core's at-most-3 retry schedule on transient
// failures (spec.md §4.7): 250ms, 1s, 4s.
var backoffSchedule = []time.Duration{250 * time.Millisecond, time.Second, 4 * time.Second}

func (c *Client) doWithRetry(ctx context.Context, fn func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= len(backoffSchedule); attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, xerr.Wrap(xerr.BrokerTimeout, "rate limiter wait", err)
		}
		resp, err := fn(ctx)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		lastErr = err
		if resp != nil {
			resp.Body.Close()
		}
		if attempt < len(backoffSchedule) {
			select {
			case <-time.After(backoffSchedule[attempt]):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, xerr.Wrap(xerr.BrokerTimeout, "exhausted retries", lastErr)
}

type orderRequestBody struct {
	RequestID      string `json:"requestId"`
	Exchange       string `json:"Exchange"`
	ExchangeType   string `json:"ExchangeType"`
	ScripCode      string `json:"ScripCode"`
	OrderType      string `json:"OrderType"`
	Qty            int64  `json:"Qty"`
	Price          string `json:"Price"`
	StopLossPrice  string `json:"StopLossPrice,omitempty"`
	IsIntraday     bool   `json:"IsIntraday"`
}

// PlaceOrder submits an entry or exit order (spec.md §4.7). Grounded on
// the teacher's JSON-over-HTTP idiom in market/api_client.go, with the
// retry/backoff and auth-refresh wrapping added per the spec.
func (c *Client) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderAck, error) {
	bearer, err := c.login(ctx)
	if err != nil {
		return model.OrderAck{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	body := orderRequestBody{
		RequestID:    uuid.New().String(),
		Exchange:     req.Exchange,
		ExchangeType: req.ExchangeType,
		ScripCode:    req.Instrument,
		OrderType:    string(req.Side),
		Qty:          req.Quantity,
		Price:        orderPrice(req),
		IsIntraday:   true,
	}
	payload, _ := json.Marshal(body)

	resp, err := c.doWithRetry(reqCtx, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/VendorsAPI/Service1.svc/V1/PlaceOrderRequest", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
		return c.http.Do(httpReq)
	})
	if err != nil {
		return model.OrderAck{}, err
	}
	defer resp.Body.Close()

	var orderResp struct {
		Body struct {
			BrokerOrderID string `json:"BrokerOrderID"`
			Status        string `json:"Status"`
			Message       string `json:"Message"`
		} `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&orderResp); err != nil {
		return model.OrderAck{}, xerr.Wrap(xerr.BrokerReject, "decoding order response", err)
	}
	if orderResp.Body.BrokerOrderID == "" {
		return model.OrderAck{}, xerr.New(xerr.BrokerReject, orderResp.Body.Message)
	}

	return model.OrderAck{
		OrderID:   orderResp.Body.BrokerOrderID,
		Status:    orderResp.Body.Status,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func orderPrice(req model.OrderRequest) string {
	switch req.Type {
	case model.OrderMarket:
		return "0"
	default:
		return req.LimitPrice.String()
	}
}

// ModifyOrder changes the limit/stop price of a resting order.
func (c *Client) ModifyOrder(ctx context.Context, orderID string, newLimitPrice, newStopPrice *decimal.Decimal) error {
	bearer, err := c.login(ctx)
	if err != nil {
		return err
	}

	body := map[string]any{"BrokerOrderID": orderID}
	if newLimitPrice != nil {
		body["Price"] = newLimitPrice.String()
	}
	if newStopPrice != nil {
		body["StopLossPrice"] = newStopPrice.String()
	}
	payload, _ := json.Marshal(body)

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := c.doWithRetry(reqCtx, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, c.cfg.BaseURL+"/VendorsAPI/Service1.svc/V1/ModifyOrderRequest", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
		return c.http.Do(httpReq)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	bearer, err := c.login(ctx)
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]string{"BrokerOrderID": orderID})
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := c.doWithRetry(reqCtx, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/VendorsAPI/Service1.svc/V1/CancelOrderRequest", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
		return c.http.Do(httpReq)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// Subscribe registers a one-shot verification callback for an order,
// delivered by the websocket order-status stream (spec.md §4.7).
func (c *Client) Subscribe(orderID string, callback func(model.OrderVerificationResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks[orderID] = callback
}

// DialOrderStream opens the broker's order-status websocket and
// dispatches incoming updates to registered callbacks exactly once per
// order (spec.md §4.7, §5 "Order Verifier ... subscription to a
// broker-side status stream when available").
func (c *Client) DialOrderStream(ctx context.Context) error {
	bearer, err := c.login(ctx)
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+bearer)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.WSURL, headers)
	if err != nil {
		return xerr.Wrap(xerr.BrokerTimeout, "dialing order status stream", err)
	}
	c.wsConn = conn

	go c.readOrderStream(ctx, conn)
	return nil
}

type orderStatusMessage struct {
	BrokerOrderID string  `json:"BrokerOrderID"`
	Status        string  `json:"Status"`
	FilledQty     int64   `json:"FilledQty"`
	AvgPrice      float64 `json:"AvgPrice"`
	Message       string  `json:"Message"`
}

func (c *Client) readOrderStream(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg orderStatusMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.log.Warnf("broker_fivepaisa: order stream read failed: %v", err)
			return
		}

		c.mu.Lock()
		cb, ok := c.callbacks[msg.BrokerOrderID]
		if ok {
			delete(c.callbacks, msg.BrokerOrderID)
		}
		c.mu.Unlock()

		if !ok {
			continue
		}

		cb(model.OrderVerificationResult{
			Success:   msg.Status == "Filled" || msg.Status == "PartiallyFilled",
			OrderID:   msg.BrokerOrderID,
			FilledQty: msg.FilledQty,
			AvgPrice:  decimal.NewFromFloat(msg.AvgPrice),
			Message:   msg.Message,
		})
	}
}
