// Package models - organization.go defines the regional hierarchy: regions, zones and the
// construction groups that scope every directory record.
package models

import "time"

// Region is a top-level organizational unit
type Region struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Zone belongs to a region
type Zone struct {
	ID        string    `db:"id" json:"id"`
	RegionID  string    `db:"region_id" json:"region_id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ConstructionGroup (CG) is the tenant boundary for directory data
type ConstructionGroup struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	RegionID  *string   `db:"region_id" json:"region_id,omitempty"`
	ZoneID    *string   `db:"zone_id" json:"zone_id,omitempty"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
