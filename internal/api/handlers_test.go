package api

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"drtdispatch/internal/config"
	"drtdispatch/internal/model"
	"drtdispatch/internal/store"
)

const problemJSON = `{
  "vehicles": [{"id": "bus", "startLocation": 0, "capacity": [2], "costs": {"perDistance": 1}}],
  "shipments": [
    {"id": "a", "pickup": {"location": 1}, "delivery": {"location": 2}, "demand": [1]},
    {"id": "b", "pickup": {"location": 1}, "delivery": {"location": 3}, "demand": [1], "maxRideTimeSec": 100}
  ],
  "services": [{"id": "c", "stop": {"location": 2}, "demand": [1]}]
}`

// lineCSV places n locations 10 units apart on a line.
func lineCSV(n int) string {
	var b strings.Builder
	b.WriteString("from,to,time,distance\n")
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := 10 * (j - i)
			if d < 0 {
				d = -d
			}
			fmt.Fprintf(&b, "%d,%d,%d,%d\n", i, j, d, d)
		}
	}
	return b.String()
}

func lineRecords(n int) []model.MatrixRecord {
	var out []model.MatrixRecord
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := float64(10 * (j - i))
			if d < 0 {
				d = -d
			}
			out = append(out, model.MatrixRecord{From: i, To: j, Time: d, Distance: d})
		}
	}
	return out
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.HTTP.RateRPS = 0
	cfg.Optimizer.Workers = 1
	cfg.Optimizer.MaxIterations = 50
	cfg.Optimizer.LogEvery = 0
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	s, err := NewServer(cfg, store.NewMemory(), NewBroker())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func optimizeBody(t *testing.T, mut func(req map[string]any)) []byte {
	t.Helper()
	var prob map[string]any
	if err := json.Unmarshal([]byte(problemJSON), &prob); err != nil {
		t.Fatal(err)
	}
	req := map[string]any{"problem": prob, "matrix": lineRecords(4), "params": map[string]any{"seed": 7}}
	if mut != nil {
		mut(req)
	}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if hdr["Content-Type"] == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthReady(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()
	if rr := do(t, h, http.MethodGet, "/healthz", nil, nil); rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr := do(t, h, http.MethodGet, "/readyz", nil, nil)
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatal("missing request id header")
	}
	if rr := do(t, h, http.MethodGet, "/metrics", nil, nil); rr.Code != 200 || !strings.Contains(rr.Body.String(), "http_requests_total") {
		t.Fatalf("metrics: %d", rr.Code)
	}
}

func TestOptimizeWait(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()
	rr := do(t, h, http.MethodPost, "/v1/optimize", optimizeBody(t, func(req map[string]any) { req["wait"] = true }), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("optimize: %d %s", rr.Code, rr.Body.String())
	}
	var run model.Run
	if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
		t.Fatal(err)
	}
	if run.Status != model.RunDone || run.Result == nil {
		t.Fatalf("run not done: %+v", run)
	}
	sol := run.Result.Solution
	if len(sol.Unassigned) != 0 || len(sol.Routes) != 1 {
		t.Fatalf("solution: %+v", sol)
	}
	picked := map[string]bool{}
	for _, a := range sol.Routes[0].Activities {
		switch a.Type {
		case "pickup":
			picked[a.JobID] = true
		case "delivery":
			if !picked[a.JobID] {
				t.Fatalf("delivery of %s before its pickup", a.JobID)
			}
			if a.JobID == "b" && (a.RideTimeSec == nil || *a.RideTimeSec > 100) {
				t.Fatalf("ride time of b: %v", a.RideTimeSec)
			}
		}
	}

	got := do(t, h, http.MethodGet, "/v1/runs/"+run.ID, nil, nil)
	if got.Code != 200 || !strings.Contains(got.Body.String(), `"status":"done"`) {
		t.Fatalf("get run: %d %s", got.Code, got.Body.String())
	}
	list := do(t, h, http.MethodGet, "/v1/runs?status=done", nil, nil)
	if list.Code != 200 || !strings.Contains(list.Body.String(), run.ID) {
		t.Fatalf("list runs: %d %s", list.Code, list.Body.String())
	}
}

func TestOptimizeRejectsBadInput(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.Handler()
	cases := map[string][]byte{
		"no matrix":       optimizeBody(t, func(req map[string]any) { delete(req, "matrix") }),
		"both sources":    optimizeBody(t, func(req map[string]any) { req["dataset"] = "city" }),
		"unknown dataset": optimizeBody(t, func(req map[string]any) { delete(req, "matrix"); req["dataset"] = "nowhere" }),
		"bad location": optimizeBody(t, func(req map[string]any) {
			req["problem"].(map[string]any)["services"] = []any{map[string]any{"id": "x", "stop": map[string]any{"location": 9}}}
		}),
		"bad cooling":  optimizeBody(t, func(req map[string]any) { req["params"] = map[string]any{"cooling": 2} }),
		"bad callback": optimizeBody(t, func(req map[string]any) { req["callbackUrl"] = "ftp://x" }),
		"huge index": optimizeBody(t, func(req map[string]any) {
			req["matrix"] = append(lineRecords(4), model.MatrixRecord{From: 0, To: 4_000_000, Time: 1, Distance: 1})
		}),
		"too many workers": optimizeBody(t, func(req map[string]any) { req["params"] = map[string]any{"workers": 1000} }),
		"not json":         []byte("{"),
	}
	for name, body := range cases {
		rr := do(t, h, http.MethodPost, "/v1/optimize", body, nil)
		if rr.Code != http.StatusBadRequest && rr.Code != http.StatusNotFound {
			t.Fatalf("%s: got %d %s", name, rr.Code, rr.Body.String())
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
			t.Fatalf("%s: content type %q", name, ct)
		}
	}
	runs, _, _ := s.Store.ListRuns(context.Background(), "", "", 0)
	if len(runs) != 0 {
		t.Fatalf("rejected requests must not create runs: %+v", runs)
	}
}

func TestMatrixDatasets(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()
	rr := do(t, h, http.MethodPut, "/v1/matrices/city", []byte(lineCSV(4)), map[string]string{"Content-Type": "text/csv"})
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), `"saved":16`) {
		t.Fatalf("put csv: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodPut, "/v1/matrices/city", []byte(`[{"from":0,"to":1,"time":12,"distance":11}]`), nil)
	if rr.Code != 200 {
		t.Fatalf("put json: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodGet, "/v1/matrices/city", nil, nil)
	var got struct {
		Size    int                  `json:"size"`
		Records []model.MatrixRecord `json:"records"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Size != 4 || len(got.Records) != 16 {
		t.Fatalf("dataset: size=%d records=%d", got.Size, len(got.Records))
	}
	for _, r := range got.Records {
		if r.From == 0 && r.To == 1 && (r.Time != 12 || r.Distance != 11) {
			t.Fatalf("last write must win: %+v", r)
		}
	}

	rr = do(t, h, http.MethodPost, "/v1/optimize", optimizeBody(t, func(req map[string]any) {
		delete(req, "matrix")
		req["dataset"] = "city"
		req["wait"] = true
	}), nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), `"status":"done"`) {
		t.Fatalf("optimize on dataset: %d %s", rr.Code, rr.Body.String())
	}

	if rr := do(t, h, http.MethodPut, "/v1/matrices/bad", []byte("0,1,-5,3\n"), map[string]string{"Content-Type": "text/csv"}); rr.Code != 400 {
		t.Fatalf("negative time: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPut, "/v1/matrices/bad", []byte("0,4000000,5,3\n"), map[string]string{"Content-Type": "text/csv"}); rr.Code != 400 {
		t.Fatalf("index past the size limit: %d", rr.Code)
	}
}

func TestOptimizeAsyncStream(t *testing.T) {
	s := newTestServer(t, testConfig())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/optimize", "application/json", bytes.NewReader(optimizeBody(t, nil)))
	if err != nil {
		t.Fatal(err)
	}
	var accepted struct {
		RunID string `json:"runId"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&accepted)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || accepted.RunID == "" {
		t.Fatalf("accept: %d %+v", resp.StatusCode, accepted)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/runs/"+accepted.RunID+"/events/stream", nil)
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = stream.Body.Close() }()
	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	sc := bufio.NewScanner(stream.Body)
	done := false
	for sc.Scan() {
		if sc.Text() == "event: done" {
			done = true
			break
		}
	}
	if !done {
		t.Fatalf("stream ended without done event: %v", sc.Err())
	}

	run, err := s.Store.GetRun(context.Background(), accepted.RunID)
	if err != nil || run.Status != model.RunDone || run.Result == nil {
		t.Fatalf("stored run: %+v %v", run, err)
	}
}

func TestRunWebSocket(t *testing.T) {
	s := newTestServer(t, testConfig())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	rr := do(t, s.Handler(), http.MethodPost, "/v1/optimize", optimizeBody(t, nil), nil)
	var accepted struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &accepted); err != nil || rr.Code != http.StatusAccepted {
		t.Fatalf("accept: %d %v", rr.Code, err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/runs/" + accepted.RunID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var evt model.RunEvent
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("socket closed before the final event: %v", err)
		}
		if evt.RunID != accepted.RunID {
			t.Fatalf("event of another run: %+v", evt)
		}
		if evt.Type == "done" {
			return
		}
	}
}

func TestCallbackQueued(t *testing.T) {
	cfg := testConfig()
	cfg.Webhooks.Secret = "cb-secret"
	s := newTestServer(t, cfg)
	h := s.Handler()
	rr := do(t, h, http.MethodPost, "/v1/optimize", optimizeBody(t, func(req map[string]any) {
		req["wait"] = true
		req["callbackUrl"] = "https://dispatch.example/hook"
	}), nil)
	if rr.Code != 200 {
		t.Fatalf("optimize: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodGet, "/v1/admin/webhook-deliveries?status=pending", nil, nil)
	var list struct {
		Items []store.WebhookDelivery `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 1 || list.Items[0].EventType != "run.completed" || list.Items[0].URL != "https://dispatch.example/hook" {
		t.Fatalf("deliveries: %+v", list.Items)
	}
	if rr := do(t, h, http.MethodPost, "/v1/admin/webhook-deliveries/"+list.Items[0].ID+"/retry", nil, nil); rr.Code != http.StatusAccepted {
		t.Fatalf("retry: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v1/admin/webhook-deliveries/nope/retry", nil, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("retry missing: %d", rr.Code)
	}
}

func TestOptimizerConfig(t *testing.T) {
	h := newTestServer(t, testConfig()).Handler()
	rr := do(t, h, http.MethodPut, "/v1/admin/optimizer/config", []byte(`{"config":{"workers":3,"acceptance":"threshold"}}`), nil)
	if rr.Code != 200 {
		t.Fatalf("put config: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodGet, "/v1/optimizer/config", nil, nil)
	var got struct {
		Defaults model.RunParams `json:"defaults"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Defaults.Workers != 3 || got.Defaults.Acceptance != "threshold" || got.Defaults.MaxIterations != 50 {
		t.Fatalf("effective defaults: %+v", got.Defaults)
	}
	if rr := do(t, h, http.MethodPut, "/v1/admin/optimizer/config", []byte(`{"config":{"construction":"magic"}}`), nil); rr.Code != 400 {
		t.Fatalf("bad config: %d", rr.Code)
	}
}

func hs256(t *testing.T, secret, sub, role string) string {
	t.Helper()
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	signed := enc(map[string]string{"alg": "HS256"}) + "." + enc(map[string]any{"sub": sub, "role": role, "exp": time.Now().Add(time.Hour).Unix()})
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	return signed + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestAuthRoles(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.Auth{Mode: "hmac", HMACSecret: "k", RoleClaim: "role", SubjectClaim: "sub"}
	h := newTestServer(t, cfg).Handler()

	if rr := do(t, h, http.MethodGet, "/v1/runs", nil, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rr.Code)
	}
	viewer := map[string]string{"Authorization": "Bearer " + hs256(t, "k", "ann", "viewer")}
	if rr := do(t, h, http.MethodGet, "/v1/runs", nil, viewer); rr.Code != 200 {
		t.Fatalf("viewer list: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v1/optimize", optimizeBody(t, nil), viewer); rr.Code != http.StatusForbidden {
		t.Fatalf("viewer optimize: %d", rr.Code)
	}
	dispatcher := map[string]string{"Authorization": "Bearer " + hs256(t, "k", "dan", "dispatcher")}
	if rr := do(t, h, http.MethodPut, "/v1/matrices/x", []byte("0,1,1,1\n"), dispatcher); rr.Code != http.StatusForbidden {
		t.Fatalf("dispatcher matrix upload: %d", rr.Code)
	}
	forged := map[string]string{"Authorization": "Bearer " + hs256(t, "other", "eve", "admin")}
	if rr := do(t, h, http.MethodGet, "/v1/runs", nil, forged); rr.Code != http.StatusUnauthorized {
		t.Fatalf("forged token: %d", rr.Code)
	}
}

func TestOptimizeRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.RateRPS = 0.001
	cfg.HTTP.RateBurst = 1
	h := newTestServer(t, cfg).Handler()
	body := optimizeBody(t, func(req map[string]any) { req["wait"] = true })
	if rr := do(t, h, http.MethodPost, "/v1/optimize", body, nil); rr.Code != 200 {
		t.Fatalf("first: %d", rr.Code)
	}
	rr := do(t, h, http.MethodPost, "/v1/optimize", body, nil)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("second: %d", rr.Code)
	}
}
