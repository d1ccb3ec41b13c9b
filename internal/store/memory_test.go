package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"drtdispatch/internal/matrix"
	"drtdispatch/internal/model"
)

func TestMemoryRuns(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var ids []string
	for i := 0; i < 3; i++ {
		run, err := m.CreateRun(ctx, model.Run{Params: model.RunParams{MaxIterations: i + 1}})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if run.ID == "" || run.Status != model.RunQueued || run.CreatedAt.IsZero() {
			t.Fatalf("create did not fill defaults: %+v", run)
		}
		ids = append(ids, run.ID)
	}

	run, _ := m.GetRun(ctx, ids[1])
	run.Status = model.RunDone
	run.Result = &model.RunResult{Stop: "max-iterations"}
	if err := m.UpdateRun(ctx, run); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := m.GetRun(ctx, ids[1])
	if err != nil || got.Result == nil || got.Status != model.RunDone {
		t.Fatalf("get after update: %+v %v", got, err)
	}

	page, next, err := m.ListRuns(ctx, "", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != ids[2] || page[1].ID != ids[1] || next != ids[1] {
		t.Fatalf("first page: %+v next=%s", page, next)
	}
	if page[1].Result != nil {
		t.Fatal("list must not carry results")
	}
	page, next, _ = m.ListRuns(ctx, "", next, 2)
	if len(page) != 1 || page[0].ID != ids[0] || next != "" {
		t.Fatalf("second page: %+v next=%s", page, next)
	}
	page, _, _ = m.ListRuns(ctx, model.RunDone, "", 10)
	if len(page) != 1 || page[0].ID != ids[1] {
		t.Fatalf("status filter: %+v", page)
	}

	if _, err := m.GetRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing run: %v", err)
	}
	if err := m.UpdateRun(ctx, model.Run{ID: "nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing run: %v", err)
	}
}

func TestMemoryMatrixLastWriteWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.LoadMatrix(ctx, "city"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty dataset: %v", err)
	}
	_, _ = m.SaveMatrix(ctx, "city", []matrix.Record{{From: 1, To: 0, Time: 3, Distance: 3}, {From: 0, To: 1, Time: 5, Distance: 5}})
	_, _ = m.SaveMatrix(ctx, "city", []matrix.Record{{From: 0, To: 1, Time: 7, Distance: 9}})
	recs, err := m.LoadMatrix(ctx, "city")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("want 2 records, got %+v", recs)
	}
	if recs[0].From != 0 || recs[0].Time != 7 || recs[0].Distance != 9 {
		t.Fatalf("later write must replace the pair: %+v", recs[0])
	}
}

func TestMemoryWebhookQueue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id, err := m.EnqueueWebhook(ctx, "r1", "run.completed", "http://cb", "s", []byte(`{"runId":"r1"}`))
	if err != nil || id == "" {
		t.Fatalf("enqueue: %v", err)
	}
	again, _ := m.EnqueueWebhook(ctx, "r1", "run.completed", "http://cb", "s", []byte(`{"runId":"r1"}`))
	if again != id {
		t.Fatalf("duplicate payload must not enqueue twice: %s vs %s", again, id)
	}

	due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 || due[0].Secret != "s" {
		t.Fatalf("due: %+v", due)
	}
	later := time.Now().Add(time.Hour)
	_ = m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 3)
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 0 {
		t.Fatalf("retry scheduled in the future must not be due: %+v", due)
	}
	if err := m.RetryWebhookDelivery(ctx, id); err != nil {
		t.Fatal(err)
	}
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 || due[0].Attempts != 1 {
		t.Fatalf("manual retry: %+v", due)
	}
	_ = m.FailWebhookDelivery(ctx, id, "gone", 410, 1)
	failed, _ := m.ListWebhookDeliveries(ctx, DeliveryFailed, 0)
	if len(failed) != 1 || failed[0].LastError != "gone" || failed[0].Attempts != 2 {
		t.Fatalf("failed list: %+v", failed)
	}
	if err := m.RetryWebhookDelivery(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("retry missing: %v", err)
	}
}

func TestMemoryOptimizerConfig(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.GetOptimizerConfig(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unset config: %v", err)
	}
	if err := m.SaveOptimizerConfig(ctx, model.RunParams{Workers: 3}); err != nil {
		t.Fatal(err)
	}
	got, err := m.GetOptimizerConfig(ctx)
	if err != nil || got.Workers != 3 {
		t.Fatalf("config: %+v %v", got, err)
	}
}
