package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"drtdispatch/internal/model"
	"drtdispatch/internal/opt"
	"drtdispatch/internal/problem"
	"drtdispatch/internal/store"
	"drtdispatch/internal/webhooks"
)

// runManager optimises accepted runs. At most cap(sem) runs search at the
// same time; the others wait in status queued.
type runManager struct {
	store  store.Store
	broker EventBroker
	pub    *webhooks.Publisher
	sem    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newRunManager(st store.Store, broker EventBroker, pub *webhooks.Publisher, maxConcurrent int) *runManager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &runManager{store: st, broker: broker, pub: pub, sem: make(chan struct{}, maxConcurrent), ctx: ctx, cancel: cancel}
}

// start optimises run in the background.
func (m *runManager) start(run model.Run, p *problem.Problem, cfg opt.Config) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(m.ctx, run, p, cfg)
	}()
}

// execute optimises run and stores the outcome. Runs cut short by ctx are
// stored as done with the best solution found so far.
func (m *runManager) execute(ctx context.Context, run model.Run, p *problem.Problem, cfg opt.Config) model.Run {
	bg := context.WithoutCancel(ctx)
	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		return m.finish(bg, run, nil, p, ctx.Err())
	}

	run.Status = model.RunRunning
	if err := m.store.UpdateRun(bg, run); err != nil {
		log.Printf("run=%s update err=%v", run.ID, err)
	}

	events := make(chan opt.Progress, 64)
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		for pr := range events {
			out := model.ProgressFrom(pr)
			m.broker.Publish(run.ID, model.RunEvent{Type: "progress", RunID: run.ID, Progress: &out, TS: now()})
		}
	}()
	// called with the engine's best-solution lock held: never block
	cfg.OnProgress = func(pr opt.Progress) {
		select {
		case events <- pr:
		default:
		}
	}
	cfg.Logger = log.New(log.Writer(), fmt.Sprintf("run=%s ", run.ID), log.Flags())

	res, err := opt.Solve(ctx, p, cfg)
	close(events)
	<-pumped
	return m.finish(bg, run, res, p, err)
}

func (m *runManager) finish(ctx context.Context, run model.Run, res *opt.Result, p *problem.Problem, err error) model.Run {
	evt := model.RunEvent{RunID: run.ID, TS: now()}
	if err != nil || res == nil {
		if err == nil {
			err = errors.New("no result")
		}
		run.Status = model.RunFailed
		run.Error = err.Error()
		evt.Type = "failed"
	} else {
		run.Status = model.RunDone
		run.Result = model.ResultFrom(p, res)
		evt.Type = "done"
		log.Printf("run=%s status=done stop=%s cost=%.2f unassigned=%d dur=%dms",
			run.ID, res.Stop, res.Best.Cost, len(res.Unassigned), res.Duration.Milliseconds())
	}
	evt.Status = run.Status
	if uerr := m.store.UpdateRun(ctx, run); uerr != nil {
		log.Printf("run=%s update err=%v", run.ID, uerr)
	}
	m.broker.Publish(run.ID, evt)
	m.pub.RunFinished(ctx, run)
	return run
}

func (m *runManager) shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }
