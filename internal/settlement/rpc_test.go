package settlement_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lifeline/internal/event"
	"lifeline/internal/services"
	"lifeline/internal/settlement"
)

func submitRequest() settlement.SubmitRequest {
	return settlement.SubmitRequest{
		Key: "evt-1",
		Recipients: []event.Recipient{
			{Address: "0xngo", Role: "emergency_ngo", Amount: 0.04},
			{Address: "0xgov", Role: "local_government", Amount: 0.03},
		},
		Fee: 20,
	}
}

func TestRPCSubmitRoundTrip(t *testing.T) {
	var got struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  []struct {
			Key        string `json:"key"`
			Fee        int64  `json:"fee"`
			Recipients []struct {
				Address string  `json:"address"`
				Amount  float64 `json:"amount"`
			} `json:"recipients"`
		} `json:"params"`
		ID int64 `json:"id"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"reference":"0xfeed"}}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer server.Close()

	client := settlement.NewRPC(server.URL, 5*time.Second)
	defer client.Close()

	ref, err := client.Submit(context.Background(), submitRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ref != "0xfeed" {
		t.Fatalf("unexpected reference: %q", ref)
	}
	if got.JSONRPC != "2.0" {
		t.Fatalf("unexpected jsonrpc version: %q", got.JSONRPC)
	}
	if got.Method != "settlement_submit" {
		t.Fatalf("unexpected method: %q", got.Method)
	}
	if got.ID == 0 {
		t.Fatal("expected a sequenced request id")
	}
	if len(got.Params) != 1 {
		t.Fatalf("expected single params object, got %d", len(got.Params))
	}
	if got.Params[0].Key != "evt-1" || got.Params[0].Fee != 20 {
		t.Fatalf("unexpected params: %+v", got.Params[0])
	}
	if len(got.Params[0].Recipients) != 2 {
		t.Fatalf("expected 2 recipients, got %d", len(got.Params[0].Recipients))
	}
}

func TestRPCSequencesRequestIDs(t *testing.T) {
	var ids []int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID int64 `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		ids = append(ids, req.ID)
		if _, err := w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"status":"pending"}}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer server.Close()

	client := settlement.NewRPC(server.URL, 5*time.Second)
	defer client.Close()

	for range 3 {
		if _, err := client.Check(context.Background(), "0x1"); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	if len(ids) != 3 || ids[0] >= ids[1] || ids[1] >= ids[2] {
		t.Fatalf("expected strictly increasing request ids, got %v", ids)
	}
}

func TestRPCClassifiesErrorCodes(t *testing.T) {
	cases := []struct {
		name      string
		code      int
		transient bool
	}{
		{"server error retries", -32001, true},
		{"internal error retries", -32603, true},
		{"invalid params does not retry", -32602, false},
		{"method not found does not retry", -32601, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, err := json.Marshal(map[string]any{
					"jsonrpc": "2.0",
					"id":      1,
					"error":   map[string]any{"code": tc.code, "message": "nope"},
				})
				if err != nil {
					t.Errorf("marshal response: %v", err)
				}
				if _, err := w.Write(body); err != nil {
					t.Errorf("write response: %v", err)
				}
			}))
			defer server.Close()

			client := settlement.NewRPC(server.URL, 5*time.Second)
			defer client.Close()

			_, err := client.Submit(context.Background(), submitRequest())
			if err == nil {
				t.Fatal("expected an error")
			}
			if services.IsTransient(err) != tc.transient {
				t.Fatalf("code %d: transient=%v, want %v: %v", tc.code, services.IsTransient(err), tc.transient, err)
			}
		})
	}
}

func TestRPCRateLimitIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := settlement.NewRPC(server.URL, 5*time.Second)
	defer client.Close()

	_, err := client.Submit(context.Background(), submitRequest())
	if !services.IsTransient(err) {
		t.Fatalf("expected transient error for 429, got %v", err)
	}
}

func TestRPCServerFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway melting", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := settlement.NewRPC(server.URL, 5*time.Second)
	defer client.Close()

	_, err := client.Submit(context.Background(), submitRequest())
	if !services.IsTransient(err) {
		t.Fatalf("expected transient error for 503, got %v", err)
	}
}

func TestRPCCheckParsesStatuses(t *testing.T) {
	statuses := []settlement.Status{
		settlement.StatusConfirmed,
		settlement.StatusPending,
		settlement.StatusNotFound,
	}
	for _, want := range statuses {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := json.Marshal(map[string]any{
				"jsonrpc": "2.0",
				"id":      1,
				"result":  map[string]any{"status": string(want)},
			})
			if err != nil {
				t.Errorf("marshal response: %v", err)
			}
			if _, err := w.Write(body); err != nil {
				t.Errorf("write response: %v", err)
			}
		}))

		client := settlement.NewRPC(server.URL, 5*time.Second)
		status, err := client.Check(context.Background(), "0xfeed")
		client.Close()
		server.Close()
		if err != nil {
			t.Fatalf("check %s: %v", want, err)
		}
		if status != want {
			t.Fatalf("unexpected status: got %q want %q", status, want)
		}
	}
}

func TestRPCCheckRejectsUnknownStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"status":"sideways"}}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer server.Close()

	client := settlement.NewRPC(server.URL, 5*time.Second)
	defer client.Close()

	if _, err := client.Check(context.Background(), "0xfeed"); err == nil {
		t.Fatal("expected an error for an unknown status")
	}
}

func TestRPCCheckHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"pong"}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer healthy.Close()

	client := settlement.NewRPC(healthy.URL, 5*time.Second)
	defer client.Close()
	if err := client.CheckHealth(context.Background()); err != nil {
		t.Fatalf("healthy gateway reported unhealthy: %v", err)
	}

	dead := settlement.NewRPC("http://127.0.0.1:1", time.Second)
	defer dead.Close()
	err := dead.CheckHealth(context.Background())
	if !services.IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}
