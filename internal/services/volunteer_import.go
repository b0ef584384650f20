package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	pgdb "github.com/ldc-construction/ldc-tools/internal/db"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/validation"
)

// legacyRoles maps the role column of the old spreadsheet to role codes.
var legacyRoles = map[string]string{
	"Trade Team Overseer":           models.RoleCodeTTO,
	"Trade Team Overseer Assistant": models.RoleCodeTTOA,
	"Trade Team Support":            models.RoleCodeTTSupport,
	"Trade Crew Overseer":           models.RoleCodeTCO,
	"Trade Crew Overseer Assistant": models.RoleCodeTCOA,
	"Trade Crew Support":            models.RoleCodeTCSupport,
	"Trade Crew Volunteer":          models.RoleCodeTCV,
	"Personnel Contact":             models.RoleCodePC,
	"Personnel Contact Assistant":   "PCA",
	"Personnel Contact Support":     "PC-Support",
}

// ImportRow is one volunteer in an import, from a CSV line or the JSON body.
type ImportRow struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	BAID          string `json:"ba_id"`
	EmailPersonal string `json:"email_personal"`
	EmailJW       string `json:"email_jw"`
	Phone         string `json:"phone"`
	Congregation  string `json:"congregation"`
	ServingAs     string `json:"serving_as"`
	TradeTeam     string `json:"trade_team"`
	TradeCrew     string `json:"trade_crew"`
	Role          string `json:"role"`
	IsActive      string `json:"is_active"`
}

// ImportResult is the response of an import
type ImportResult struct {
	Message string   `json:"message"`
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// ParseImportCSV reads rows keyed by a header line. Header names are matched case-insensitively
// with spaces treated as underscores.
func ParseImportCSV(r io.Reader) ([]ImportRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), " ", "_"))
		idx[key] = i
	}
	if _, ok := idx["first_name"]; !ok {
		return nil, errors.New("CSV header must include first_name and last_name")
	}
	if _, ok := idx["last_name"]; !ok {
		return nil, errors.New("CSV header must include first_name and last_name")
	}

	var rows []ImportRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		get := func(name string) string {
			if i, ok := idx[name]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		rows = append(rows, ImportRow{
			FirstName:     get("first_name"),
			LastName:      get("last_name"),
			BAID:          get("ba_id"),
			EmailPersonal: get("email_personal"),
			EmailJW:       get("email_jw"),
			Phone:         get("phone"),
			Congregation:  get("congregation"),
			ServingAs:     get("serving_as"),
			TradeTeam:     get("trade_team"),
			TradeCrew:     get("trade_crew"),
			Role:          get("role"),
			IsActive:      get("is_active"),
		})
	}
	return rows, nil
}

// splitServingAs turns "Elder, Pioneer" into its parts.
func splitServingAs(s string) pq.StringArray {
	out := pq.StringArray{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func optional(s string) *string {
	return validation.TextPtr(&s)
}

// Import creates volunteers in cgID. Rows are independent: each runs in its own transaction
// and a failure is reported as "Row N (First Last): reason" without stopping the rest.
func (s *RoleAssignmentService) Import(ctx context.Context, actor audit.Actor, cgID *string, rows []ImportRow) *ImportResult {
	res := &ImportResult{Errors: make([]string, 0)}
	for i, row := range rows {
		if err := s.importRow(ctx, actor, cgID, row); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d (%s %s): %s", i+1, row.FirstName, row.LastName, importReason(err)))
			continue
		}
		res.Success++
	}
	res.Message = fmt.Sprintf("Import completed: %d successful, %d failed", res.Success, res.Failed)
	return res
}

func importReason(err error) string {
	if IsValidation(err) {
		return err.Error()
	}
	return ErrorMessage(err)
}

func (s *RoleAssignmentService) importRow(ctx context.Context, actor audit.Actor, cgID *string, row ImportRow) error {
	first, last := validation.Text(row.FirstName), validation.Text(row.LastName)
	if first == "" || last == "" {
		return invalid("first_name and last_name are required")
	}

	v := &models.Volunteer{
		FirstName:           first,
		LastName:            last,
		BAID:                optional(row.BAID),
		EmailPersonal:       optional(row.EmailPersonal),
		EmailJW:             optional(row.EmailJW),
		Phone:               optional(row.Phone),
		Congregation:        optional(row.Congregation),
		ServingAs:           splitServingAs(row.ServingAs),
		ConstructionGroupID: cgID,
		IsActive:            !strings.EqualFold(strings.TrimSpace(row.IsActive), "false"),
	}
	for _, e := range []*string{v.EmailPersonal, v.EmailJW} {
		if e != nil {
			if err := validation.Email(*e); err != nil {
				return invalid("%s", err.Error())
			}
		}
	}

	if team := strings.TrimSpace(row.TradeTeam); team != "" {
		t, err := s.teams.GetTradeTeamByName(ctx, cgID, team)
		if err != nil {
			return err
		}
		if t == nil {
			return invalid("Trade team %q not found", team)
		}
		v.TradeTeamID = &t.ID
		if crewName := strings.TrimSpace(row.TradeCrew); crewName != "" {
			c, err := s.teams.GetCrewByName(ctx, t.ID, crewName)
			if err != nil {
				return err
			}
			if c == nil {
				return invalid("Trade crew %q not found for team %q", crewName, team)
			}
			v.CrewID = &c.ID
		}
	}

	var role *models.Role
	if name := strings.TrimSpace(row.Role); name != "" {
		if code, ok := legacyRoles[name]; ok {
			r, err := s.roles.GetRoleByCode(ctx, s.db, code)
			if err != nil {
				return err
			}
			role = r
		}
	}

	var entry *models.AuditLog
	err := pgdb.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.volunteers.CreateVolunteer(ctx, tx, v); err != nil {
			return fmt.Errorf("failed to create volunteer: %w", err)
		}
		if role == nil {
			return nil
		}
		a := &models.RoleAssignment{
			VolunteerID:    v.ID,
			RoleID:         role.ID,
			AssignmentType: "import",
			IsPrimary:      true,
			IsActive:       true,
		}
		switch role.Category {
		case models.CategoryTradeTeam:
			if v.TradeTeamID != nil {
				et := models.EntityTradeTeam
				a.EntityType, a.EntityID = &et, v.TradeTeamID
				a.Scope = OversightScope(et, *v.TradeTeamID)
			}
		case models.CategoryTradeCrew:
			if v.CrewID != nil {
				et := models.EntityCrew
				a.EntityType, a.EntityID = &et, v.CrewID
				a.Scope = OversightScope(et, *v.CrewID)
			}
		}
		if actor.UserID != "" {
			a.AssignedBy = &actor.UserID
		}
		var err error
		entry, err = s.insert(ctx, tx, actor, a)
		return err
	})
	if err != nil {
		return err
	}
	if entry != nil {
		s.committed(entry, models.ChangeAssigned)
	}
	return nil
}
