package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"drtdispatch/internal/auth"
	"drtdispatch/internal/model"
)

const heartbeatEvery = 15 * time.Second

// openStream subscribes to the events of run id. When the run has already
// finished, the returned final event is non-nil and the caller should emit
// it and stop.
func (s *Server) openStream(w http.ResponseWriter, r *http.Request) (string, chan model.RunEvent, *model.RunEvent, bool) {
	if _, ok := s.require(w, r, auth.RoleViewer); !ok {
		return "", nil, nil, false
	}
	id := r.PathValue("id")
	// subscribe before reading the status so a finishing run is not missed
	ch := s.Broker.Subscribe(id)
	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		s.Broker.Unsubscribe(id, ch)
		writeStoreError(w, r, "Get run failed", err)
		return "", nil, nil, false
	}
	switch run.Status {
	case model.RunDone, model.RunFailed:
		typ := "done"
		if run.Status == model.RunFailed {
			typ = "failed"
		}
		return id, ch, &model.RunEvent{Type: typ, RunID: id, Status: run.Status, TS: now()}, true
	}
	return id, ch, nil, true
}

func final(evt model.RunEvent) bool { return evt.Type == "done" || evt.Type == "failed" }

// RunEventsStreamHandler handles GET /v1/runs/{id}/events/stream as
// server-sent events: progress events, then one done or failed event.
func (s *Server) RunEventsStreamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	id, ch, last, ok := s.openStream(w, r)
	if !ok {
		return
	}
	defer s.Broker.Unsubscribe(id, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(evt model.RunEvent) {
		b, _ := json.Marshal(evt)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, b)
		flusher.Flush()
	}
	if last != nil {
		send(*last)
		return
	}
	fmt.Fprintf(w, "event: heartbeat\ndata: {\"runId\":%q,\"ts\":%q}\n\n", id, now())
	flusher.Flush()

	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			send(evt)
			if final(evt) {
				return
			}
		case <-ticker.C:
			fmt.Fprintf(w, "event: heartbeat\ndata: {\"runId\":%q,\"ts\":%q}\n\n", id, now())
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// RunWSHandler handles GET /v1/runs/{id}/ws: each run event is sent as one
// JSON text message and the server closes the socket after the final one.
func (s *Server) RunWSHandler(w http.ResponseWriter, r *http.Request) {
	id, ch, last, ok := s.openStream(w, r)
	if !ok {
		return
	}
	defer s.Broker.Unsubscribe(id, ch)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var mu sync.Mutex
	write := func(v any) error {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	closeWith := func(reason string) {
		mu.Lock()
		defer mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	if last != nil {
		_ = write(last)
		closeWith(last.Status)
		return
	}

	// the read loop only serves control frames and notices the client leaving
	gone := make(chan struct{})
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(2 * heartbeatEvery))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * heartbeatEvery))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			if err := write(evt); err != nil {
				return
			}
			if final(evt) {
				closeWith(evt.Status)
				return
			}
		case <-ticker.C:
			mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
