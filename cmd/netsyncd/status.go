package main

import (
	"net/http"
	"sort"
	"sync"

	"github.com/QYUbit/netsync/pkg/server"
	"github.com/goccy/go-json"
)

// status is read by the http goroutine and written by the tick loop, so it
// keeps copies instead of touching the server.
type status struct {
	mu          sync.RWMutex
	tick        int64
	spawned     int
	connections map[string]struct{}
}

type statusReport struct {
	Tick        int64    `json:"tick"`
	Spawned     int      `json:"spawned"`
	Connections []string `json:"connections"`
}

func newStatus() *status {
	return &status{connections: make(map[string]struct{})}
}

func (s *status) connected(id string) {
	s.mu.Lock()
	s.connections[id] = struct{}{}
	s.mu.Unlock()
}

func (s *status) disconnected(id string) {
	s.mu.Lock()
	delete(s.connections, id)
	s.mu.Unlock()
}

func (s *status) observe(srv *server.Server) {
	s.mu.Lock()
	s.tick = srv.Tick()
	s.spawned = len(srv.Spawned())
	s.mu.Unlock()
}

func (s *status) report() statusReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.connections))
	for id := range s.connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return statusReport{Tick: s.tick, Spawned: s.spawned, Connections: ids}
}

func (s *status) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	body, err := json.Marshal(s.report())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
