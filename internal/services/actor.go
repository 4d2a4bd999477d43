package services

import (
	"github.com/google/uuid"

	"lms/internal/models"
)

// Actor is the authenticated caller. Its role has already been verified by
// the identity layer.
type Actor struct {
	ID   uuid.UUID
	Role models.UserType
}

func (a Actor) IsStaff() bool {
	return a.Role.IsStaff()
}

// CanActFor reports whether a may operate on an entity owned by userID.
func (a Actor) CanActFor(userID uuid.UUID) bool {
	return a.ID == userID || a.IsStaff()
}
