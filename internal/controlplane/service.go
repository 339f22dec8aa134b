// Package controlplane provides the HTTP API and service layer for the
// agent's status consumers.
package controlplane

import (
	"context"
	"time"

	"github.com/fentz26/murmur/internal/agent"
	"github.com/fentz26/murmur/internal/history"
	"github.com/fentz26/murmur/internal/models"
)

// Service exposes the agent's query surface to the HTTP layer. All
// operations are read-only except ForceScan.
type Service struct {
	agent *agent.Agent
	store *history.Store
}

// NewService creates a new control plane service.
func NewService(a *agent.Agent, s *history.Store) *Service {
	return &Service{agent: a, store: s}
}

// RecentHistory returns the newest limit audit records in time order.
func (s *Service) RecentHistory(limit int) ([]models.HistoryRecord, error) {
	return s.store.Recent(limit)
}

// QueryHistory returns audit records since a point in time, optionally
// filtered by record kind.
func (s *Service) QueryHistory(since time.Time, kinds []models.RecordKind, limit int) ([]models.HistoryRecord, error) {
	return s.store.Query(since, kinds, limit)
}

// Status returns the last known state per monitor.
func (s *Service) Status() []models.MonitorStatus {
	return s.agent.Status()
}

// State returns the agent lifecycle state.
func (s *Service) State() models.AgentState {
	return s.agent.State()
}

// ForceScan triggers an immediate sample from every monitor.
func (s *Service) ForceScan() error {
	return s.agent.ForceScan()
}

// Ping checks the history store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
