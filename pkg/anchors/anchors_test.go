package anchors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testRequest = Request{
	WorkID:      "GJP-MEDIA-2026-ANCHORTEST",
	MediaHash:   "aa",
	PayloadHash: "bb",
}

func TestRegistryEnable(t *testing.T) {
	r := NewRegistry()
	r.Register(NullAnchor{})

	if err := r.Enable("missing"); err == nil {
		t.Error("enabling an unknown provider must fail")
	}
	if err := r.Enable("null"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if got := r.Enabled(); len(got) != 1 || got[0] != "null" {
		t.Errorf("Enabled = %v", got)
	}
}

func TestCommitAllWithNothingEnabled(t *testing.T) {
	r := NewRegistry()
	r.Register(NullAnchor{})

	if _, err := r.CommitAll(context.Background(), testRequest); err != ErrNoProviders {
		t.Errorf("err = %v, want ErrNoProviders", err)
	}
}

func TestNullAnchor(t *testing.T) {
	r := NewRegistry()
	r.Register(NullAnchor{})
	r.Enable("null")

	receipts, err := r.CommitAll(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("CommitAll: %v", err)
	}
	if len(receipts) != 1 {
		t.Fatalf("receipts = %d", len(receipts))
	}
	if receipts[0].Status != "confirmed" || receipts[0].AnchorID != "null-"+testRequest.WorkID {
		t.Errorf("receipt = %+v", receipts[0])
	}
}

func TestHTTPAnchorCommit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.WorkID != testRequest.WorkID {
			t.Errorf("work id = %q", req.WorkID)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"anchorId":  "anchor-123",
			"blockTime": 1700000000000,
			"receipt":   []byte("proof"),
		})
	}))
	defer srv.Close()

	a := NewHTTPAnchor(srv.URL, 5*time.Second)
	receipt, err := a.Commit(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if receipt.AnchorID != "anchor-123" {
		t.Errorf("AnchorID = %q", receipt.AnchorID)
	}
	if receipt.Status != "pending" {
		t.Errorf("Status = %q", receipt.Status)
	}
	if receipt.BlockTime.UnixMilli() != 1700000000000 {
		t.Errorf("BlockTime = %v", receipt.BlockTime)
	}
}

func TestHTTPAnchorFailureBecomesFailedReceipt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRegistry()
	r.Register(NewHTTPAnchor(srv.URL, 5*time.Second))
	r.Enable("http")

	receipts, err := r.CommitAll(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("CommitAll must isolate provider failures: %v", err)
	}
	if len(receipts) != 1 || receipts[0].Status != "failed" {
		t.Errorf("receipts = %+v", receipts)
	}
}
