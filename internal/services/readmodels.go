package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ldc-construction/ldc-tools/internal/cache"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
)

// ReadModels serves the cached views: trade-team overview, volunteer stats and role catalog.
type ReadModels struct {
	cache       cache.Cache
	ttl         time.Duration
	teams       *repositories.TradeTeamRepository
	assignments *repositories.RoleAssignmentRepository
	volunteers  *repositories.VolunteerRepository
	roles       *repositories.RoleRepository
}

// NewReadModels creates a ReadModels. A nil cache disables caching.
func NewReadModels(c cache.Cache, ttl time.Duration, teams *repositories.TradeTeamRepository, assignments *repositories.RoleAssignmentRepository, volunteers *repositories.VolunteerRepository, roles *repositories.RoleRepository) *ReadModels {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ReadModels{cache: c, ttl: ttl, teams: teams, assignments: assignments, volunteers: volunteers, roles: roles}
}

// Cache returns the backing cache, which may be nil.
func (m *ReadModels) Cache() cache.Cache { return m.cache }

// TradeTeamOverview returns every team with its overseer, crews, crew overseers and vacancies.
func (m *ReadModels) TradeTeamOverview(ctx context.Context, cgID *string) ([]*models.TradeTeamOverview, error) {
	return cache.GetOrLoad(ctx, m.cache, cache.ScopedKey(cache.KeyTradeTeamOverview, cgID), m.ttl,
		func(ctx context.Context) ([]*models.TradeTeamOverview, error) {
			return m.buildOverview(ctx, cgID)
		})
}

func (m *ReadModels) buildOverview(ctx context.Context, cgID *string) ([]*models.TradeTeamOverview, error) {
	teams, err := m.teams.ListTradeTeams(ctx, cgID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list trade teams: %w", err)
	}
	crews, err := m.teams.ListCrewsForGroup(ctx, cgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list crews: %w", err)
	}
	active := true
	holders, err := m.assignments.ListAssignments(ctx, repositories.RoleAssignmentFilters{
		ConstructionGroupID: cgID,
		IsActive:            &active,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list oversight: %w", err)
	}

	// entity id -> overseer name for TTO and TCO positions
	overseer := make(map[string]string)
	for _, a := range holders {
		if a.EntityID == nil {
			continue
		}
		if a.RoleCode == models.RoleCodeTTO || a.RoleCode == models.RoleCodeTCO {
			if _, taken := overseer[*a.EntityID]; !taken {
				overseer[*a.EntityID] = a.VolunteerFirstName + " " + a.VolunteerLastName
			}
		}
	}
	nameOf := func(id string) *string {
		if n, ok := overseer[id]; ok {
			return &n
		}
		return nil
	}

	byTeam := make(map[string][]*models.Crew)
	for _, c := range crews {
		if c.IsActive {
			byTeam[c.TradeTeamID] = append(byTeam[c.TradeTeamID], c)
		}
	}

	out := make([]*models.TradeTeamOverview, 0, len(teams))
	for _, t := range teams {
		o := &models.TradeTeamOverview{TradeTeam: *t, Overseer: nameOf(t.ID), Crews: make([]models.CrewOverviewItem, 0)}
		if o.Overseer == nil {
			o.Vacancies++
		}
		for _, c := range byTeam[t.ID] {
			item := models.CrewOverviewItem{ID: c.ID, Name: c.Name, Overseer: nameOf(c.ID), VolunteerCount: c.VolunteerCount}
			if item.Overseer == nil {
				o.Vacancies++
			}
			o.Crews = append(o.Crews, item)
		}
		out = append(out, o)
	}
	return out, nil
}

// VolunteerStats returns the cached directory summary.
func (m *ReadModels) VolunteerStats(ctx context.Context, cgID *string) (*models.VolunteerStats, error) {
	return cache.GetOrLoad(ctx, m.cache, cache.ScopedKey(cache.KeyVolunteerStats, cgID), m.ttl,
		func(ctx context.Context) (*models.VolunteerStats, error) {
			return m.volunteers.GetStats(ctx, cgID)
		})
}

// RoleCatalog returns the active role catalog.
func (m *ReadModels) RoleCatalog(ctx context.Context) ([]*models.Role, error) {
	return cache.GetOrLoad(ctx, m.cache, cache.KeyRoleCatalog, m.ttl,
		func(ctx context.Context) ([]*models.Role, error) {
			return m.roles.ListRoles(ctx, "", true)
		})
}

// Warm recomputes every read model for cgID and returns the keys written.
func (m *ReadModels) Warm(ctx context.Context, cgID *string) ([]string, error) {
	if m.cache == nil {
		return []string{}, nil
	}
	overview, err := m.buildOverview(ctx, cgID)
	if err != nil {
		return nil, err
	}
	stats, err := m.volunteers.GetStats(ctx, cgID)
	if err != nil {
		return nil, err
	}
	roles, err := m.roles.ListRoles(ctx, "", true)
	if err != nil {
		return nil, err
	}

	entries := []struct {
		key   string
		value interface{}
	}{
		{cache.ScopedKey(cache.KeyTradeTeamOverview, cgID), overview},
		{cache.ScopedKey(cache.KeyVolunteerStats, cgID), stats},
		{cache.KeyRoleCatalog, roles},
	}
	warmed := make([]string, 0, len(entries))
	for _, e := range entries {
		if err := m.cache.Set(ctx, e.key, e.value, m.ttl); err != nil {
			return warmed, fmt.Errorf("failed to cache %s: %w", e.key, err)
		}
		warmed = append(warmed, e.key)
	}
	return warmed, nil
}

// InvalidateTeams drops cached overviews after a team, crew or oversight change.
func (m *ReadModels) InvalidateTeams(ctx context.Context) {
	m.clear(ctx, cache.KeyTradeTeamOverview)
}

// InvalidateVolunteers drops cached volunteer stats.
func (m *ReadModels) InvalidateVolunteers(ctx context.Context) {
	m.clear(ctx, cache.KeyVolunteerStats)
}

// InvalidateRoles drops the cached role catalog.
func (m *ReadModels) InvalidateRoles(ctx context.Context) {
	m.clear(ctx, cache.KeyRoleCatalog)
}

func (m *ReadModels) clear(ctx context.Context, prefix string) {
	if m == nil || m.cache == nil {
		return
	}
	_, _ = m.cache.Clear(ctx, prefix)
}
