package models

import "time"

// Role identifies what a user is allowed to do inside the messaging layer.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleInstructor, RoleStudent:
		return true
	}
	return false
}

// Group is a named discussion channel owned by one admin.
type Group struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	OwnerID       string    `db:"owner_id" json:"owner_id"`
	StudentIDs    []string  `json:"student_ids"`
	InstructorIDs []string  `json:"instructor_ids"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Includes reports whether the user belongs to the group, owner included.
func (g Group) Includes(userID string) bool {
	if g.OwnerID == userID {
		return true
	}
	for _, id := range g.StudentIDs {
		if id == userID {
			return true
		}
	}
	for _, id := range g.InstructorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MemberIDs returns the enrolled member ids, students first. Ownership is
// tracked on the group itself; the owner is not part of the roster.
func (g Group) MemberIDs() []string {
	ids := make([]string, 0, len(g.StudentIDs)+len(g.InstructorIDs))
	ids = append(ids, g.StudentIDs...)
	ids = append(ids, g.InstructorIDs...)
	return ids
}
