package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"drtdispatch/internal/auth"
	"drtdispatch/internal/matrix"
	"drtdispatch/internal/model"
	"drtdispatch/internal/opt"
	"drtdispatch/internal/store"
)

// OptimizeHandler handles POST /v1/optimize. The problem is validated and
// built before a run is created; input errors never start a search.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.require(w, r, auth.RoleDispatcher)
	if !ok {
		return
	}
	if s.Cfg.HTTP.RateRPS > 0 && !s.limiter(p.Subject).Allow() {
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "optimize rate limit exceeded", r.URL.Path)
		return
	}
	var req model.OptimizeRequest
	if !decodeBody(w, r, s.Cfg.HTTP.MaxBodyBytes, &req) {
		return
	}
	if err := validateOptimizeRequest(&req, s.Cfg.Optimizer.MaxWorkers); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
		return
	}

	records := model.Records(req.Matrix)
	if req.Dataset != "" {
		recs, err := s.Store.LoadMatrix(r.Context(), req.Dataset)
		if err != nil {
			writeStoreError(w, r, "Load matrix failed", err)
			return
		}
		records = recs
	}
	size := matrixSize(req.Problem, records)
	if err := matrix.CheckSize(size, s.Cfg.Optimizer.MaxMatrixSize); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid matrix", err.Error(), r.URL.Path)
		return
	}
	m, err := matrix.FromRecords(size, records)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid matrix", err.Error(), r.URL.Path)
		return
	}
	prob, err := req.Problem.Build(m)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid problem", err.Error(), r.URL.Path)
		return
	}
	cfg, err := s.runConfig(r.Context(), req.Params)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid params", err.Error(), r.URL.Path)
		return
	}

	run, err := s.Store.CreateRun(r.Context(), model.Run{
		Status:      model.RunQueued,
		Dataset:     req.Dataset,
		Params:      req.Params,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create run failed", err.Error(), r.URL.Path)
		return
	}
	if req.Wait {
		run = s.runs.execute(r.Context(), run, prob, cfg)
		writeJSON(w, http.StatusOK, run)
		return
	}
	s.runs.start(run, prob, cfg)
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"runId":  run.ID,
		"status": run.Status,
		"links": map[string]string{
			"self":   "/v1/runs/" + run.ID,
			"events": "/v1/runs/" + run.ID + "/events/stream",
			"ws":     "/v1/runs/" + run.ID + "/ws",
		},
	})
}

// runConfig layers the stored optimizer defaults and then params over the
// configured engine settings.
func (s *Server) runConfig(ctx context.Context, params model.RunParams) (opt.Config, error) {
	cfg := s.engine
	stored, err := s.Store.GetOptimizerConfig(ctx)
	switch {
	case err == nil:
		if cfg, err = stored.Apply(cfg); err != nil {
			return cfg, err
		}
	case !errors.Is(err, store.ErrNotFound):
		return cfg, err
	}
	return params.Apply(cfg)
}

// matrixSize covers every recorded index and every declared location.
func matrixSize(in model.ProblemIn, records []matrix.Record) int {
	size := matrix.SizeOf(records)
	for _, l := range in.Locations {
		if l.Index+1 > size {
			size = l.Index + 1
		}
	}
	return size
}

// RunsHandler handles GET /v1/runs.
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, auth.RoleViewer); !ok {
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", err.Error(), r.URL.Path)
			return
		}
		limit = n
	}
	items, next, err := s.Store.ListRuns(r.Context(), q.Get("status"), q.Get("cursor"), limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List runs failed", err.Error(), r.URL.Path)
		return
	}
	if items == nil {
		items = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// RunByIDHandler handles GET /v1/runs/{id}.
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, auth.RoleViewer); !ok {
		return
	}
	run, err := s.Store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, "Get run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// PutMatrixHandler handles PUT /v1/matrices/{dataset}. The body is either
// "from,to,time,distance" CSV or a JSON array of records; pairs already
// stored are overwritten.
func (s *Server) PutMatrixHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, auth.RoleAdmin); !ok {
		return
	}
	body, err := readBody(w, r, s.Cfg.HTTP.MaxBodyBytes)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeProblem(w, status, "Invalid body", err.Error(), r.URL.Path)
		return
	}
	var records []matrix.Record
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var in []model.MatrixRecord
		if err := json.Unmarshal(body, &in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		records = model.Records(in)
	} else {
		records, err = matrix.ReadCSV(bytes.NewReader(body))
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid CSV", err.Error(), r.URL.Path)
			return
		}
	}
	for _, rec := range records {
		if rec.From < 0 || rec.To < 0 || rec.Time < 0 || rec.Distance < 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid record", "indices, times and distances must be >= 0", r.URL.Path)
			return
		}
	}
	if len(records) > 0 {
		if err := matrix.CheckSize(matrix.SizeOf(records), s.Cfg.Optimizer.MaxMatrixSize); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid matrix", err.Error(), r.URL.Path)
			return
		}
	}
	dataset := r.PathValue("dataset")
	n, err := s.Store.SaveMatrix(r.Context(), dataset, records)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save matrix failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dataset": dataset, "saved": n})
}

// GetMatrixHandler handles GET /v1/matrices/{dataset}.
func (s *Server) GetMatrixHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, auth.RoleViewer); !ok {
		return
	}
	dataset := r.PathValue("dataset")
	recs, err := s.Store.LoadMatrix(r.Context(), dataset)
	if err != nil {
		writeStoreError(w, r, "Load matrix failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dataset": dataset, "size": matrix.SizeOf(recs), "records": model.FromRecords(recs)})
}

// OptimizerConfigHandler returns the effective defaults of a run.
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, auth.RoleViewer); !ok {
		return
	}
	cfg, err := s.runConfig(r.Context(), model.RunParams{})
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Optimizer config failed", err.Error(), r.URL.Path)
		return
	}
	weights := cfg.RuinWeights
	writeJSON(w, http.StatusOK, map[string]any{"defaults": model.RunParams{
		MaxIterations:      cfg.Termination.MaxIterations,
		Workers:            cfg.Workers,
		Seed:               &cfg.Seed,
		Construction:       cfg.Construction.String(),
		FastRegret:         cfg.FastRegret,
		Acceptance:         cfg.Acceptance.String(),
		TimeBudgetMs:       int(cfg.Termination.TimeBudget.Milliseconds()),
		NoImprovement:      cfg.Termination.NoImprovement,
		VariationWindow:    cfg.Termination.VariationWindow,
		VariationThreshold: cfg.Termination.VariationThreshold,
		StretchFactor:      cfg.StretchFactor,
		FixedSlackSec:      cfg.FixedSlack,
		UnassignedPenalty:  cfg.UnassignedPenalty,
		InitTemp:           cfg.InitialTemp,
		Cooling:            cfg.Cooling,
		RuinWeights:        weights[:],
	}})
}

// AdminOptimizerConfigHandler handles GET and PUT /v1/admin/optimizer/config,
// the stored defaults layered under every run's params.
func (s *Server) AdminOptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, auth.RoleAdmin); !ok {
		return
	}
	if r.Method == http.MethodGet {
		cfg, err := s.Store.GetOptimizerConfig(r.Context())
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusInternalServerError, "Get config failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"config": cfg})
		return
	}
	var body struct {
		Config model.RunParams `json:"config"`
	}
	if !decodeBody(w, r, 1<<20, &body) {
		return
	}
	if err := validateParams(body.Config, s.Cfg.Optimizer.MaxWorkers); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid config", err.Error(), r.URL.Path)
		return
	}
	if _, err := body.Config.Apply(s.engine); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid config", err.Error(), r.URL.Path)
		return
	}
	if err := s.Store.SaveOptimizerConfig(r.Context(), body.Config); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Save failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries.
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, auth.RoleAdmin); !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.Store.ListWebhookDeliveries(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	if items == nil {
		items = []store.WebhookDelivery{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// WebhookDeliveryRetryHandler handles POST /v1/admin/webhook-deliveries/{id}/retry.
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.require(w, r, auth.RoleAdmin); !ok {
		return
	}
	if err := s.Store.RetryWebhookDelivery(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, r, "Retry delivery failed", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": 1})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler checks the store and, when it is Redis, the broker.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "store: "+err.Error(), r.URL.Path)
		return
	}
	type pinger interface{ Ping(ctx context.Context) error }
	if b, ok := s.Broker.(pinger); ok {
		if err := b.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "broker: "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
