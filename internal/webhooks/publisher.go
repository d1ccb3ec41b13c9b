package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"drtdispatch/internal/model"
	"drtdispatch/internal/store"
)

const (
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

// Publisher enqueues run callbacks; the Worker delivers them.
type Publisher struct {
	Store  store.Store
	Secret string
}

func NewPublisher(s store.Store, secret string) *Publisher {
	return &Publisher{Store: s, Secret: secret}
}

// RunFinished enqueues the completion callback of run if it asked for one.
func (p *Publisher) RunFinished(ctx context.Context, run model.Run) {
	if run.CallbackURL == "" {
		return
	}
	eventType := EventRunCompleted
	if run.Status == model.RunFailed {
		eventType = EventRunFailed
	}
	data := model.CallbackPayload{RunID: run.ID, Status: run.Status, Error: run.Error}
	if res := run.Result; res != nil {
		data.Cost = res.Solution.Cost
		data.Routes = len(res.Solution.Routes)
		data.Unassigned = len(res.Solution.Unassigned)
		data.Stop = res.Stop
	}
	body, err := json.Marshal(map[string]any{
		"id":   fmt.Sprintf("evt_%s_%s", run.ID, run.Status),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	})
	if err != nil {
		log.Printf("webhook run=%s encode: %v", run.ID, err)
		return
	}
	if _, err := p.Store.EnqueueWebhook(ctx, run.ID, eventType, run.CallbackURL, p.Secret, body); err != nil {
		log.Printf("webhook run=%s enqueue: %v", run.ID, err)
	}
}
