package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/store"
)

const DefaultMaxConcurrentChats = 5

type DepartmentService struct {
	Store  store.Repository
	Logger zerolog.Logger
}

type DepartmentInput struct {
	Name               string
	Description        string
	Priority           int
	AutoAssignChannels []string
	WelcomeMessage     string
	IsActive           *bool
}

func (s *DepartmentService) Create(ctx context.Context, tenantID string, in DepartmentInput) (models.Department, error) {
	if strings.TrimSpace(in.Name) == "" {
		return models.Department{}, fmt.Errorf("department name is required: %w", ErrInvalidInput)
	}
	d := models.Department{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		IsActive: true,
	}
	apply(&d, in)
	if err := s.Store.SaveDepartment(ctx, &d); err != nil {
		return models.Department{}, unavailable("save department", err)
	}
	s.Logger.Info().Str("tenant_id", tenantID).Str("department_id", d.ID).Msg("department created")
	return d, nil
}

func (s *DepartmentService) Update(ctx context.Context, tenantID, id string, in DepartmentInput) (models.Department, error) {
	d, err := s.Store.GetDepartment(ctx, tenantID, id)
	if err != nil {
		return models.Department{}, notFound("department", id, err)
	}
	if strings.TrimSpace(in.Name) == "" {
		in.Name = d.Name
	}
	apply(&d, in)
	if err := s.Store.SaveDepartment(ctx, &d); err != nil {
		return models.Department{}, unavailable("save department", err)
	}
	return d, nil
}

func apply(d *models.Department, in DepartmentInput) {
	d.Name = strings.TrimSpace(in.Name)
	d.Description = in.Description
	d.Priority = in.Priority
	d.AutoAssignChannels = in.AutoAssignChannels
	if d.AutoAssignChannels == nil {
		d.AutoAssignChannels = []string{}
	}
	d.WelcomeMessage = in.WelcomeMessage
	if in.IsActive != nil {
		d.IsActive = *in.IsActive
	}
}

func (s *DepartmentService) Delete(ctx context.Context, tenantID, id string) error {
	if err := s.Store.DeleteDepartment(ctx, tenantID, id); err != nil {
		return notFound("department", id, err)
	}
	return nil
}

func (s *DepartmentService) Get(ctx context.Context, tenantID, id string) (models.Department, error) {
	d, err := s.Store.GetDepartment(ctx, tenantID, id)
	if err != nil {
		return models.Department{}, notFound("department", id, err)
	}
	return d, nil
}

func (s *DepartmentService) List(ctx context.Context, tenantID string) ([]models.Department, error) {
	out, err := s.Store.ListDepartments(ctx, tenantID, false)
	if err != nil {
		return nil, unavailable("list departments", err)
	}
	return out, nil
}

// AddMember adds or updates an agent's membership. A zero skill level means the default.
func (s *DepartmentService) AddMember(ctx context.Context, tenantID, departmentID, agentID string, skills []string, skillLevel int) (models.Membership, error) {
	if skillLevel == 0 {
		skillLevel = DefaultSkillLevel
	}
	if skillLevel < 1 || skillLevel > 10 {
		return models.Membership{}, fmt.Errorf("skill level %d outside 1..10: %w", skillLevel, ErrInvalidInput)
	}
	if _, err := s.Store.GetDepartment(ctx, tenantID, departmentID); err != nil {
		return models.Membership{}, notFound("department", departmentID, err)
	}
	if _, err := s.Store.GetAgent(ctx, tenantID, agentID); err != nil {
		return models.Membership{}, notFound("agent", agentID, err)
	}
	if skills == nil {
		skills = []string{}
	}
	m := models.Membership{
		ID:           uuid.NewString(),
		DepartmentID: departmentID,
		AgentID:      agentID,
		Skills:       skills,
		SkillLevel:   skillLevel,
		IsActive:     true,
	}
	if err := s.Store.SaveMembership(ctx, &m); err != nil {
		return models.Membership{}, unavailable("save membership", err)
	}
	return m, nil
}

func (s *DepartmentService) RemoveMember(ctx context.Context, tenantID, departmentID, agentID string) error {
	if _, err := s.Store.GetDepartment(ctx, tenantID, departmentID); err != nil {
		return notFound("department", departmentID, err)
	}
	if err := s.Store.DeleteMembership(ctx, departmentID, agentID); err != nil {
		return notFound("membership", agentID, err)
	}
	return nil
}

func (s *DepartmentService) Members(ctx context.Context, tenantID, departmentID string) ([]models.Membership, error) {
	if _, err := s.Store.GetDepartment(ctx, tenantID, departmentID); err != nil {
		return nil, notFound("department", departmentID, err)
	}
	out, err := s.Store.ListMemberships(ctx, departmentID)
	if err != nil {
		return nil, unavailable("list memberships", err)
	}
	return out, nil
}

type PresenceWriter interface {
	MarkOnline(ctx context.Context, tenantID, agentID string) error
	MarkOffline(ctx context.Context, tenantID, agentID string) error
}

type AgentService struct {
	Store      store.Repository
	Presence   PresenceWriter
	Processing *ProcessingService
	Logger     zerolog.Logger
}

func (s *AgentService) Upsert(ctx context.Context, a models.Agent) (models.Agent, error) {
	if strings.TrimSpace(a.Name) == "" {
		return models.Agent{}, fmt.Errorf("agent name is required: %w", ErrInvalidInput)
	}
	if a.MaxConcurrentChats < 0 {
		return models.Agent{}, fmt.Errorf("max concurrent chats must not be negative: %w", ErrInvalidInput)
	}
	isNew := a.ID == ""
	if !isNew {
		existing, err := s.Store.GetAgent(ctx, a.TenantID, a.ID)
		switch {
		case err == nil:
			a.CreatedAt = existing.CreatedAt
			if a.Status == "" {
				a.Status = existing.Status
			}
		case errors.Is(err, store.ErrNotFound):
			isNew = true
		default:
			return models.Agent{}, unavailable("load agent", err)
		}
	}
	if isNew {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.IsActive = true
		if a.MaxConcurrentChats == 0 {
			a.MaxConcurrentChats = DefaultMaxConcurrentChats
		}
	}
	if a.Status == "" {
		a.Status = models.AgentOffline
	}
	if err := s.Store.SaveAgent(ctx, &a); err != nil {
		return models.Agent{}, unavailable("save agent", err)
	}
	return a, nil
}

func (s *AgentService) List(ctx context.Context, tenantID string) ([]models.Agent, error) {
	out, err := s.Store.ListAgents(ctx, tenantID)
	if err != nil {
		return nil, unavailable("list agents", err)
	}
	return out, nil
}

// SetPresence records the agent's status. Online and away agents are routable;
// an agent becoming available drains the tenant queue.
func (s *AgentService) SetPresence(ctx context.Context, tenantID, agentID string, status models.AgentStatus) (models.Agent, *RunSummary, error) {
	switch status {
	case models.AgentOnline, models.AgentAway, models.AgentOffline:
	default:
		return models.Agent{}, nil, fmt.Errorf("unknown status %q: %w", status, ErrInvalidInput)
	}
	a, err := s.Store.GetAgent(ctx, tenantID, agentID)
	if err != nil {
		return models.Agent{}, nil, notFound("agent", agentID, err)
	}

	if status == models.AgentOffline {
		err = s.Presence.MarkOffline(ctx, tenantID, agentID)
	} else {
		err = s.Presence.MarkOnline(ctx, tenantID, agentID)
	}
	if err != nil {
		return models.Agent{}, nil, unavailable("update presence", err)
	}

	previous := a.Status
	a.Status = status
	if err := s.Store.SaveAgent(ctx, &a); err != nil {
		return models.Agent{}, nil, unavailable("save agent status", err)
	}
	s.Logger.Info().
		Str("tenant_id", tenantID).
		Str("agent_id", agentID).
		Str("from", string(previous)).
		Str("to", string(status)).
		Msg("agent presence changed")

	if status == models.AgentOffline || s.Processing == nil {
		return a, nil, nil
	}
	summary, err := s.Processing.ProcessQueue(ctx, tenantID)
	if err != nil {
		s.Logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("process queue after agent came online")
		return a, nil, nil
	}
	return a, &summary, nil
}
