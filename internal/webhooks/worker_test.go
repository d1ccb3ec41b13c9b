package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"drtdispatch/internal/model"
	"drtdispatch/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
	Next          *time.Time
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError, Next: nextAttemptAt})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), MaxAttempts: 3, BatchSize: 10}
	pub := NewPublisher(rs, "secret")
	pub.RunFinished(context.Background(), model.Run{
		ID:          "run-1",
		Status:      model.RunDone,
		CallbackURL: srv.URL,
		Result:      &model.RunResult{Stop: "max-iterations", Solution: model.SolutionOut{Cost: 60, Routes: []model.RouteOut{{VehicleID: "v"}}}},
	})

	w.processOnce(context.Background())

	if gotType != EventRunCompleted {
		t.Fatalf("event type header: %q", gotType)
	}
	if !VerifyHMAC("secret", gotBody, gotSig) {
		t.Fatalf("signature %q does not verify", gotSig)
	}
	var env struct {
		Type string                `json:"type"`
		Data model.CallbackPayload `json:"data"`
	}
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatal(err)
	}
	if env.Data.RunID != "run-1" || env.Data.Cost != 60 || env.Data.Routes != 1 {
		t.Fatalf("payload: %+v", env)
	}
	if len(rs.marks) == 0 || !rs.marks[0].Success {
		t.Fatalf("expected mark success, got: %+v", rs.marks)
	}
}

func TestWorkerProcessOnce_RetryThenFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), MaxAttempts: 2, BatchSize: 10}
	id, _ := rs.Memory.EnqueueWebhook(context.Background(), "r1", EventRunFailed, srv.URL, "", []byte(`{}`))

	w.processOnce(context.Background())
	if len(rs.marks) != 1 || rs.marks[0].Success || rs.marks[0].Code != 500 || rs.marks[0].Next == nil {
		t.Fatalf("expected a scheduled retry, got %+v", rs.marks)
	}
	// make it due again
	if err := rs.RetryWebhookDelivery(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	w.processOnce(context.Background())
	if len(rs.fails) != 1 || rs.fails[0].LastErr != "status 500" {
		t.Fatalf("expected fail recorded, got %+v", rs.fails)
	}
}

func TestPublisherSkipsRunsWithoutCallback(t *testing.T) {
	m := store.NewMemory()
	NewPublisher(m, "").RunFinished(context.Background(), model.Run{ID: "r", Status: model.RunDone})
	items, _ := m.ListWebhookDeliveries(context.Background(), "", 0)
	if len(items) != 0 {
		t.Fatalf("unexpected deliveries: %+v", items)
	}
}

func TestNextBackoff(t *testing.T) {
	if nextBackoff(0) != time.Second || nextBackoff(3) != 8*time.Second {
		t.Fatalf("backoff doubles: %v %v", nextBackoff(0), nextBackoff(3))
	}
	if nextBackoff(40) != time.Hour {
		t.Fatalf("backoff caps at an hour: %v", nextBackoff(40))
	}
}

func TestSignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := SignHMAC("k", body)
	if !VerifyHMAC("k", body, sig) || !VerifyHMAC("k", body, sig[len(SignaturePrefix):]) {
		t.Fatal("own signature must verify")
	}
	if VerifyHMAC("other", body, sig) || VerifyHMAC("k", body, "zz") {
		t.Fatal("bad signature accepted")
	}
}
