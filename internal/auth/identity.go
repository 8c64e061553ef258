package auth

import "github.com/farmlink/marketplace/internal/models"

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID int64
	Email  string
	Role   string
}

// Privileged reports whether the caller holds administrative authority and
// may bypass ownership checks.
func (i Identity) Privileged() bool {
	return i.Role == models.RoleAdmin
}
