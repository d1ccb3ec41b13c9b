package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"drtdispatch/internal/matrix"
	"drtdispatch/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	runs     map[string]model.Run
	runOrder []string // creation order, newest last
	matrices map[string]map[[2]int]matrix.Record
	// Webhooks queue state
	deliveries map[string]*WebhookDelivery
	order      []string
	dedup      map[string]string // run|event|url|key -> delivery id
	optCfg     *model.RunParams
}

func NewMemory() *Memory {
	return &Memory{
		runs:       map[string]model.Run{},
		matrices:   map[string]map[[2]int]matrix.Record{},
		deliveries: map[string]*WebhookDelivery{},
		dedup:      map[string]string{},
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) CreateRun(ctx context.Context, run model.Run) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if _, dup := m.runs[run.ID]; dup {
		return model.Run{}, fmt.Errorf("create run %s: already exists", run.ID)
	}
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now
	if run.Status == "" {
		run.Status = model.RunQueued
	}
	m.runs[run.ID] = run
	m.runOrder = append(m.runOrder, run.ID)
	return run, nil
}

func (m *Memory) UpdateRun(ctx context.Context, run model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.runs[run.ID]
	if !ok {
		return fmt.Errorf("update run %s: %w", run.ID, ErrNotFound)
	}
	run.CreatedAt = old.CreatedAt
	run.UpdatedAt = time.Now().UTC()
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return model.Run{}, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	return run, nil
}

// ListRuns returns runs newest first, without results. The cursor is the id
// of the last run of the previous page.
func (m *Memory) ListRuns(ctx context.Context, status, cursor string, limit int) ([]model.Run, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := len(m.runOrder) - 1
	if cursor != "" {
		for i, id := range m.runOrder {
			if id == cursor {
				start = i - 1
				break
			}
		}
	}
	out := []model.Run{}
	next := ""
	for i := start; i >= 0; i-- {
		run := m.runs[m.runOrder[i]]
		if status != "" && run.Status != status {
			continue
		}
		run.Result = nil
		out = append(out, run)
		if len(out) == limit {
			next = run.ID
			break
		}
	}
	return out, next, nil
}

func (m *Memory) SaveMatrix(ctx context.Context, dataset string, records []matrix.Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.matrices[dataset]
	if set == nil {
		set = map[[2]int]matrix.Record{}
		m.matrices[dataset] = set
	}
	for _, r := range records {
		set[[2]int{r.From, r.To}] = r
	}
	return len(records), nil
}

func (m *Memory) LoadMatrix(ctx context.Context, dataset string) ([]matrix.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.matrices[dataset]
	if !ok || len(set) == 0 {
		return nil, fmt.Errorf("load matrix %s: %w", dataset, ErrNotFound)
	}
	out := make([]matrix.Record, 0, len(set))
	for _, r := range set {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out, nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, runID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := runID + "|" + eventType + "|" + url + "|" + computeDedupKey(payload)
	if id, ok := m.dedup[key]; ok {
		return id, nil
	}
	id := uuid.New().String()
	m.deliveries[id] = &WebhookDelivery{
		ID:            id,
		RunID:         runID,
		EventType:     eventType,
		URL:           url,
		Secret:        secret,
		Payload:       payload,
		Status:        DeliveryPending,
		NextAttemptAt: time.Now(),
	}
	m.order = append(m.order, id)
	m.dedup[key] = id
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.order {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return fmt.Errorf("mark delivery %s: %w", id, ErrNotFound)
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return fmt.Errorf("fail delivery %s: %w", id, ErrNotFound)
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []WebhookDelivery{}
	for _, id := range m.order {
		d := m.deliveries[id]
		if status == "" || d.Status == status {
			out = append(out, *d)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return fmt.Errorf("retry delivery %s: %w", id, ErrNotFound)
	}
	d.Status = DeliveryPending
	d.NextAttemptAt = time.Now()
	return nil
}

func (m *Memory) GetOptimizerConfig(ctx context.Context) (model.RunParams, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.optCfg == nil {
		return model.RunParams{}, fmt.Errorf("optimizer config: %w", ErrNotFound)
	}
	return *m.optCfg, nil
}

func (m *Memory) SaveOptimizerConfig(ctx context.Context, params model.RunParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.optCfg = &params
	return nil
}
