package settlement

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

	"lifeline/internal/services"
)

const userAgent = "Lifeline-Go/0.1.0"

// JSON-RPC error codes the gateway reports. Server-side codes retry;
// request-side codes do not.
const (
	rpcInternalError  = -32603
	rpcServerErrorMax = -32000
	rpcServerErrorMin = -32099
)

// RPC talks JSON-RPC 2.0 over HTTP to a settlement gateway.
type RPC struct {
	endpoint string
	client   *http.Client
	seq      atomic.Int64
}

// NewRPC builds a client for the gateway at endpoint.
func NewRPC(endpoint string, timeout time.Duration) *RPC {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RPC{
		endpoint: strings.TrimSpace(endpoint),
		client:   &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int64  `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *rpcError) transient() bool {
	if e.Code == rpcInternalError {
		return true
	}
	return e.Code >= rpcServerErrorMin && e.Code <= rpcServerErrorMax
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Submit sends the disbursement and returns the network reference.
func (r *RPC) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	params := struct {
		Key        string          `json:"key"`
		Recipients []wireRecipient `json:"recipients"`
		Fee        int64           `json:"fee"`
	}{Key: req.Key, Fee: req.Fee}
	for _, rec := range req.Recipients {
		params.Recipients = append(params.Recipients, wireRecipient{
			Address: rec.Address,
			Role:    rec.Role,
			Amount:  rec.Amount,
		})
	}

	var result struct {
		Reference string `json:"reference"`
	}
	if err := r.call(ctx, "settlement_submit", params, &result); err != nil {
		return "", err
	}
	if strings.TrimSpace(result.Reference) == "" {
		return "", services.Wrap(services.ErrPermanent, "settlement", "submit",
			"gateway accepted the submission but returned no reference", nil)
	}
	return result.Reference, nil
}

type wireRecipient struct {
	Address string  `json:"address"`
	Role    string  `json:"role"`
	Amount  float64 `json:"amount"`
}

// Check resolves a reference to its network status.
func (r *RPC) Check(ctx context.Context, reference string) (Status, error) {
	params := struct {
		Reference string `json:"reference"`
	}{Reference: reference}

	var result struct {
		Status string `json:"status"`
	}
	if err := r.call(ctx, "settlement_check", params, &result); err != nil {
		return "", err
	}
	switch Status(result.Status) {
	case StatusConfirmed, StatusPending, StatusNotFound:
		return Status(result.Status), nil
	default:
		return "", services.Wrap(services.ErrPermanent, "settlement", "check",
			fmt.Sprintf("gateway returned unknown status %q", result.Status), nil)
	}
}

// CheckHealth pings the gateway.
func (r *RPC) CheckHealth(ctx context.Context) error {
	if err := r.call(ctx, "settlement_ping", struct{}{}, nil); err != nil {
		return services.Wrap(services.ErrUnavailable, "settlement", "ping", r.endpoint, err)
	}
	return nil
}

// Close releases idle connections.
func (r *RPC) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// call performs one JSON-RPC round trip and decodes the result into out
// when out is non-nil. HTTP 429 and 5xx responses and server-side rpc
// error codes come back transient-marked so callers retry them; every
// other failure is permanent for the submission at hand.
func (r *RPC) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  []any{params},
		ID:      r.seq.Add(1),
	})
	if err != nil {
		return services.Wrap(services.ErrPermanent, "settlement", method, "marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return services.Wrap(services.ErrPermanent, "settlement", method, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return services.Wrap(services.ErrTransient, "settlement", method, "gateway unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		detail := "gateway rate limited the request"
		if after := resp.Header.Get("Retry-After"); after != "" {
			detail = fmt.Sprintf("%s (retry after %s)", detail, after)
		}
		return services.Wrap(services.ErrTransient, "settlement", method, detail, nil)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return services.Wrap(services.ErrTransient, "settlement", method,
			fmt.Sprintf("gateway returned HTTP %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return services.Wrap(services.ErrPermanent, "settlement", method,
			fmt.Sprintf("gateway returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return services.Wrap(services.ErrTransient, "settlement", method, "parse response", err)
	}
	if rpcResp.Error != nil {
		marker := services.ErrPermanent
		if rpcResp.Error.transient() {
			marker = services.ErrTransient
		}
		return services.Wrap(marker, "settlement", method, "gateway rejected the call", rpcResp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return services.Wrap(services.ErrTransient, "settlement", method, "parse result", err)
	}
	return nil
}

var _ Client = (*RPC)(nil)
