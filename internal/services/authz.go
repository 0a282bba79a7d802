package services

import (
	"errors"
	"fmt"

	domain "github.com/hohichh/marketplace-orders/internal/domain"
	"github.com/hohichh/marketplace-orders/internal/platform/auth"
)

// ErrForbidden indicates the caller lacks the role or ownership the operation requires.
var ErrForbidden = errors.New("authz: forbidden")

// RequireAdmin rejects callers without the admin role.
func RequireAdmin(identity *auth.Identity) error {
	if identity == nil {
		return fmt.Errorf("%w: missing identity", ErrForbidden)
	}
	if !identity.IsAdmin() {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

// RequireOwnerOrAdmin rejects callers that neither own the order nor hold the
// admin role. The order must already be resolved; ownership of an unknown
// order is never granted.
func RequireOwnerOrAdmin(identity *auth.Identity, order domain.Order) error {
	if identity == nil {
		return fmt.Errorf("%w: missing identity", ErrForbidden)
	}
	if identity.IsAdmin() {
		return nil
	}
	if identity.UID != "" && identity.UID == order.UserID {
		return nil
	}
	return fmt.Errorf("%w: caller is neither owner nor admin", ErrForbidden)
}

// RequireSelfOrAdmin rejects callers asking for another user's data unless
// they hold the admin role.
func RequireSelfOrAdmin(identity *auth.Identity, userID string) error {
	if identity == nil {
		return fmt.Errorf("%w: missing identity", ErrForbidden)
	}
	if identity.IsAdmin() {
		return nil
	}
	if identity.UID != "" && identity.UID == userID {
		return nil
	}
	return fmt.Errorf("%w: caller may only access their own orders", ErrForbidden)
}
