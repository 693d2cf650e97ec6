package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnidesk/backend/internal/store"
)

const DefaultBatchSize = 10

type ProcessingService struct {
	Store     store.Repository
	Router    *Router
	Queue     *QueueManager
	Logger    zerolog.Logger
	BatchSize int
}

type RunSummary struct {
	TenantID     string           `json:"tenant_id"`
	Examined     int              `json:"examined"`
	Routed       int              `json:"routed"`
	Errors       int              `json:"errors"`
	StoppedEarly bool             `json:"stopped_early"`
	DurationMs   int64            `json:"duration_ms"`
	Events       []map[string]any `json:"events,omitempty"`
}

// ProcessQueue routes waiting conversations oldest first and stops as soon as one
// of them goes back to the queue, since that means nobody has capacity left.
func (s *ProcessingService) ProcessQueue(ctx context.Context, tenantID string) (RunSummary, error) {
	start := time.Now()
	summary := RunSummary{TenantID: tenantID}

	batch, err := s.Queue.DequeueNextBatch(ctx, tenantID, s.batchSize())
	if err != nil {
		return summary, err
	}

	for _, conv := range batch {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Examined++
		res, err := s.Router.Route(ctx, tenantID, conv.ID, conv.DepartmentID)
		if err != nil {
			if errors.Is(err, ErrStoreUnavailable) {
				return summary, err
			}
			summary.Errors++
			summary.Events = append(summary.Events, map[string]any{
				"type":            "route_error",
				"conversation_id": conv.ID,
				"error":           err.Error(),
			})
			s.Logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("route queued conversation")
			continue
		}
		if !res.Assigned {
			summary.StoppedEarly = true
			summary.Events = append(summary.Events, map[string]any{
				"type":            "requeued",
				"conversation_id": conv.ID,
				"position":        res.QueuePosition,
				"reason_code":     res.ReasonCode,
			})
			break
		}
		summary.Routed++
		summary.Events = append(summary.Events, map[string]any{
			"type":            "assigned",
			"conversation_id": conv.ID,
			"agent_id":        res.AgentID,
		})
	}

	summary.DurationMs = time.Since(start).Milliseconds()
	if summary.Examined > 0 {
		s.Logger.Info().
			Str("tenant_id", tenantID).
			Int("examined", summary.Examined).
			Int("routed", summary.Routed).
			Bool("stopped_early", summary.StoppedEarly).
			Msg("queue processed")
	}
	return summary, nil
}

// ProcessAll drains the queue of every tenant that has waiting conversations.
func (s *ProcessingService) ProcessAll(ctx context.Context) ([]RunSummary, error) {
	tenants, err := s.Store.ListQueuedTenants(ctx)
	if err != nil {
		return nil, unavailable("list queued tenants", err)
	}
	out := make([]RunSummary, 0, len(tenants))
	for _, tenantID := range tenants {
		summary, err := s.ProcessQueue(ctx, tenantID)
		if err != nil {
			s.Logger.Error().Err(err).Str("tenant_id", tenantID).Msg("process queue")
			continue
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *ProcessingService) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return DefaultBatchSize
}
