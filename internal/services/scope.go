package services

import (
	"context"
	"fmt"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

// inGroup reports whether a row owned by cg is reachable by a caller scoped to scope.
// A nil scope reaches every construction group.
func inGroup(scope, cg *string) bool {
	if scope == nil {
		return true
	}
	return cg != nil && *cg == *scope
}

// scopedCrew loads a crew and its team, returning nil when either is missing or the team
// belongs to another construction group.
func (s *AssignmentService) scopedCrew(ctx context.Context, scope *string, crewID string) (*models.Crew, error) {
	crew, err := s.teams.GetCrewByID(ctx, crewID)
	if err != nil {
		return nil, fmt.Errorf("failed to load crew: %w", err)
	}
	if crew == nil || scope == nil {
		return crew, nil
	}
	team, err := s.teams.GetTradeTeam(ctx, crew.TradeTeamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade team: %w", err)
	}
	if team == nil || !inGroup(scope, team.ConstructionGroupID) {
		return nil, nil
	}
	return crew, nil
}
