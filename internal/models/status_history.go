package models

import "time"

// StatusChange records a tier transition of a student.
type StatusChange struct {
	ID         string        `db:"id" json:"id"`
	StudentID  string        `db:"student_id" json:"student_id"`
	FromStatus StudentStatus `db:"from_status" json:"from_status"`
	ToStatus   StudentStatus `db:"to_status" json:"to_status"`
	PointTotal int           `db:"point_total" json:"point_total"`
	Reason     string        `db:"reason" json:"reason"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}
