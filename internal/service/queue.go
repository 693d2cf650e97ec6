package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/realtime"
	"github.com/omnidesk/backend/internal/store"
)

var waitingStatuses = []models.ConversationStatus{models.ConversationOpen, models.ConversationPending}

type QueueManager struct {
	Store       store.Repository
	Broadcaster realtime.Broadcaster
	Logger      zerolog.Logger
	Now         func() time.Time
}

type DepartmentQueueStats struct {
	DepartmentID   string `json:"department_id"`
	DepartmentName string `json:"department_name"`
	Waiting        int    `json:"waiting"`
	Active         int    `json:"active"`
	TotalMembers   int    `json:"total_members"`
	OnlineMembers  int    `json:"online_members"`
}

type QueueStats struct {
	Departments []DepartmentQueueStats `json:"departments"`
	Unassigned  int                    `json:"unassigned"`
}

// Enqueue parks the conversation and returns its position. The position counts
// other waiting conversations at this instant; it is not kept up to date afterwards.
func (q *QueueManager) Enqueue(ctx context.Context, conv *models.Conversation, tenantID, departmentID string) (int, error) {
	f := store.ConversationFilter{
		TenantID:    tenantID,
		ExcludeID:   conv.ID,
		QueueStatus: models.QueueQueued,
		Statuses:    waitingStatuses,
	}
	if departmentID != "" {
		f.DepartmentID = departmentID
	}
	ahead, err := q.Store.CountConversations(ctx, f)
	if err != nil {
		return 0, unavailable("count queue", err)
	}
	position := ahead + 1

	// a conversation put back by the processing pass keeps its original wait time
	if conv.QueueStatus != models.QueueQueued || conv.QueuedAt == nil {
		now := q.now()
		conv.QueuedAt = &now
	}
	conv.QueueStatus = models.QueueQueued
	conv.Status = models.ConversationPending
	conv.AssignedToID = ""
	conv.QueuePosition = position
	if departmentID != "" {
		conv.DepartmentID = departmentID
	}
	if err := q.Store.SaveConversation(ctx, conv); err != nil {
		return 0, unavailable("save queued conversation", err)
	}

	q.Broadcaster.EmitToTenant(ctx, tenantID, realtime.EventQueueUpdated, realtime.QueueUpdated{
		ConversationID: conv.ID,
		Position:       position,
		DepartmentID:   conv.DepartmentID,
	})
	q.Broadcaster.EmitToVisitor(ctx, conv.ContactID, realtime.EventQueuePosition, realtime.QueuePosition{
		Position: position,
		Message:  QueuePositionMessage(position),
	})

	q.Logger.Info().
		Str("tenant_id", tenantID).
		Str("conversation_id", conv.ID).
		Str("department_id", conv.DepartmentID).
		Int("position", position).
		Msg("conversation queued")
	return position, nil
}

// DequeueNextBatch returns the oldest waiting conversations first.
func (q *QueueManager) DequeueNextBatch(ctx context.Context, tenantID string, limit int) ([]models.Conversation, error) {
	out, err := q.Store.FindConversations(ctx, store.ConversationFilter{
		TenantID:    tenantID,
		QueueStatus: models.QueueQueued,
		Statuses:    waitingStatuses,
		Order:       store.OrderQueuedAtAsc,
		Limit:       limit,
	})
	if err != nil {
		return nil, unavailable("list queue", err)
	}
	return out, nil
}

func (q *QueueManager) Stats(ctx context.Context, tenantID string, online map[string]struct{}) (QueueStats, error) {
	depts, err := q.Store.ListDepartments(ctx, tenantID, true)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Departments: make([]DepartmentQueueStats, 0, len(depts))}
	for _, d := range depts {
		waiting, err := q.Store.CountConversations(ctx, store.ConversationFilter{
			TenantID: tenantID, DepartmentID: d.ID, QueueStatus: models.QueueQueued, Statuses: waitingStatuses,
		})
		if err != nil {
			return QueueStats{}, err
		}
		assigned, err := q.Store.CountConversations(ctx, store.ConversationFilter{
			TenantID: tenantID, DepartmentID: d.ID, Statuses: []models.ConversationStatus{models.ConversationAssigned},
		})
		if err != nil {
			return QueueStats{}, err
		}
		members, err := q.Store.ListMemberships(ctx, d.ID)
		if err != nil {
			return QueueStats{}, err
		}
		row := DepartmentQueueStats{DepartmentID: d.ID, DepartmentName: d.Name, Waiting: waiting, Active: assigned}
		for _, m := range members {
			if !m.IsActive {
				continue
			}
			row.TotalMembers++
			if _, ok := online[m.AgentID]; ok {
				row.OnlineMembers++
			}
		}
		stats.Departments = append(stats.Departments, row)
	}

	stats.Unassigned, err = q.Store.CountConversations(ctx, store.ConversationFilter{
		TenantID: tenantID, NoDepartment: true, QueueStatus: models.QueueQueued, Statuses: waitingStatuses,
	})
	if err != nil {
		return QueueStats{}, err
	}
	return stats, nil
}

func QueuePositionMessage(position int) string {
	if position <= 1 {
		return "You are next in line! An agent will be with you shortly."
	}
	return fmt.Sprintf("You are number %d in the queue. Please wait, an agent will be with you soon.", position)
}

func (q *QueueManager) now() time.Time {
	if q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}
