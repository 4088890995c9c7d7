package models

import "time"

// StudentStatus is the disciplinary tier derived from a point total.
type StudentStatus string

const (
	StudentStatusNormal          StudentStatus = "NORMAL"
	StudentStatusProbation       StudentStatus = "PROBATION"
	StudentStatusAtRiskExpulsion StudentStatus = "AT_RISK_EXPULSION"
)

// Valid reports whether s is a known status.
func (s StudentStatus) Valid() bool {
	switch s {
	case StudentStatusNormal, StudentStatusProbation, StudentStatusAtRiskExpulsion:
		return true
	default:
		return false
	}
}

// Student represents a learner and their disciplinary standing.
type Student struct {
	ID          string        `db:"id" json:"id"`
	IdentityRef string        `db:"identity_ref" json:"identity_ref"`
	NIS         string        `db:"nis" json:"nis"`
	FullName    string        `db:"full_name" json:"full_name"`
	Program     string        `db:"program" json:"program"`
	Cohort      string        `db:"cohort" json:"cohort"`
	Affiliation string        `db:"affiliation" json:"affiliation"`
	Track       string        `db:"track" json:"track"`
	PointTotal  int           `db:"point_total" json:"point_total"`
	Status      StudentStatus `db:"status" json:"status"`
	Version     int64         `db:"version" json:"version"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	Program   string
	Cohort    string
	Status    *StudentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// PointTally is the result of an atomic point-total mutation.
type PointTally struct {
	StudentID  string        `db:"id"`
	PointTotal int           `db:"point_total"`
	Status     StudentStatus `db:"status"`
	Version    int64         `db:"version"`
}
