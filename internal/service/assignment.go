package service

import (
	"sort"

	"github.com/omnidesk/backend/internal/models"
)

const (
	DefaultSkillLevel = 5

	loadWeight  = 50.0
	skillWeight = 30.0
)

const (
	ReasonNoAgents          = "NO_AGENTS"
	ReasonNoOnlineAgents    = "NO_ONLINE_AGENTS"
	ReasonCapacityExhausted = "CAPACITY_EXHAUSTED"
)

type Candidate struct {
	Agent       models.Agent
	Membership  *models.Membership
	ActiveChats int
	Score       float64
}

type EligibilityResult struct {
	Eligible   []Candidate
	ReasonCode string
	ReasonText string
	Stages     []EligibilityStage
	// DepartmentFallback is set when nobody in the department was online and the
	// whole tenant was considered instead.
	DepartmentFallback bool
}

type EligibilityStage struct {
	Name     string   `json:"name"`
	AgentIDs []string `json:"agent_ids"`
}

// Score rates an agent for a new conversation. ok is false when the agent is at or
// over capacity; such agents must never be picked.
func Score(agent models.Agent, activeChats int, membership *models.Membership) (float64, bool) {
	capacity := agent.MaxConcurrentChats
	if capacity <= 0 || activeChats >= capacity {
		return 0, false
	}
	skill := DefaultSkillLevel
	if membership != nil && membership.SkillLevel > 0 {
		skill = membership.SkillLevel
	}
	free := float64(capacity-activeChats) / float64(capacity)
	return loadWeight*free + skillWeight*float64(skill)/10 + statusBonus(agent.Status), true
}

func statusBonus(s models.AgentStatus) float64 {
	switch s {
	case models.AgentOnline:
		return 20
	case models.AgentAway:
		return 5
	default:
		return 0
	}
}

// PickBest returns the highest scoring candidate. Ties go to the agent with fewer
// active chats, then to the earlier candidate in the slice.
func PickBest(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ActiveChats < sorted[j].ActiveChats
	})
	return sorted[0], true
}

// FilterEligibleAgents narrows the tenant's agents down to scored candidates.
// memberships is nil when no department applies. countActive failures exclude
// the agent, the same way an outage of the presence store hides everyone.
func FilterEligibleAgents(agents []models.Agent, online map[string]struct{}, memberships []models.Membership, countActive func(agentID string) (int, error)) EligibilityResult {
	result := EligibilityResult{}
	result.Stages = append(result.Stages, stage("tenant_agents", agents))

	active := filterAgents(agents, func(a models.Agent) bool { return a.IsActive })
	if len(active) == 0 {
		result.ReasonCode = ReasonNoAgents
		result.ReasonText = "Tenant has no active agents"
		return result
	}

	afterOnline := filterAgents(active, func(a models.Agent) bool {
		_, ok := online[a.ID]
		return ok
	})
	result.Stages = append(result.Stages, stage("online", afterOnline))
	if len(afterOnline) == 0 {
		result.ReasonCode = ReasonNoOnlineAgents
		result.ReasonText = "No agents online"
		return result
	}

	byAgent := map[string]*models.Membership{}
	pool := afterOnline
	if memberships != nil {
		for i := range memberships {
			if memberships[i].IsActive {
				byAgent[memberships[i].AgentID] = &memberships[i]
			}
		}
		inDept := filterAgents(afterOnline, func(a models.Agent) bool {
			_, ok := byAgent[a.ID]
			return ok
		})
		if len(inDept) == 0 {
			result.DepartmentFallback = true
			result.Stages = append(result.Stages, stage("department_fallback", afterOnline))
		} else {
			pool = inDept
			result.Stages = append(result.Stages, stage("department", inDept))
		}
	}

	var eligible []Candidate
	for _, a := range pool {
		n, err := countActive(a.ID)
		if err != nil {
			continue
		}
		score, ok := Score(a, n, byAgent[a.ID])
		if !ok {
			continue
		}
		eligible = append(eligible, Candidate{Agent: a, Membership: byAgent[a.ID], ActiveChats: n, Score: score})
	}
	capStage := EligibilityStage{Name: "capacity"}
	for _, c := range eligible {
		capStage.AgentIDs = append(capStage.AgentIDs, c.Agent.ID)
	}
	result.Stages = append(result.Stages, capStage)
	if len(eligible) == 0 {
		result.ReasonCode = ReasonCapacityExhausted
		result.ReasonText = "All online agents are at capacity"
		return result
	}

	result.Eligible = eligible
	return result
}

func stage(name string, agents []models.Agent) EligibilityStage {
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	return EligibilityStage{Name: name, AgentIDs: ids}
}

func filterAgents(agents []models.Agent, keep func(models.Agent) bool) []models.Agent {
	out := make([]models.Agent, 0, len(agents))
	for _, a := range agents {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}
