package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"goldchain/crypto"
)

// Client is a minimal JSON-RPC client for the ledger methods.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
}

// NewClient targets endpoint, e.g. http://127.0.0.1:8545.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/") + "/",
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Call invokes method with params and decodes the result into out.
func (c *Client) Call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		if err != nil {
			return err
		}
		raw = append(raw, encoded)
	}
	body, err := json.Marshal(RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  raw,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBytes*16))
	if err != nil {
		return err
	}
	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("rpc: decode response (status %d): %w", resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	return json.Unmarshal(decoded.Result, out)
}

// CallSigned signs params for method with key and invokes it.
func (c *Client) CallSigned(ctx context.Context, key *crypto.PrivateKey, method string, params interface{}, out interface{}) error {
	call, err := NewSignedCall(key, method, params, uuid.NewString(), time.Now())
	if err != nil {
		return err
	}
	return c.Call(ctx, method, out, call)
}

// Initialize claims the admin role for key.
func (c *Client) Initialize(ctx context.Context, key *crypto.PrivateKey) (*ConfigJSON, error) {
	var out ConfigJSON
	if err := c.CallSigned(ctx, key, methodInitialize, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddLedger records a new ledger signed by key.
func (c *Client) AddLedger(ctx context.Context, key *crypto.PrivateKey, trackingID, lotID string) (*LedgerJSON, error) {
	var out LedgerJSON
	params := ledgerPairParams{TrackingID: trackingID, LotID: lotID}
	if err := c.CallSigned(ctx, key, methodAddLedger, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLedger returns nil when no record exists for the pair.
func (c *Client) GetLedger(ctx context.Context, trackingID, lotID string) (*LedgerJSON, error) {
	var out *LedgerJSON
	params := ledgerLookupParams{TrackingID: &trackingID, LotID: &lotID}
	if err := c.Call(ctx, methodGetLedger, &out, params); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetAllLedgers(ctx context.Context) ([]LedgerJSON, error) {
	var out []LedgerJSON
	if err := c.Call(ctx, methodGetAllLedgers, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetConfig(ctx context.Context) (*ConfigJSON, error) {
	var out ConfigJSON
	if err := c.Call(ctx, methodGetConfig, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Head(ctx context.Context) (*HeadJSON, error) {
	var out HeadJSON
	if err := c.Call(ctx, methodHead, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
