package rbac

import (
	"fmt"

	"github.com/google/uuid"
)

// Reason explains a decision outcome.
type Reason string

const (
	ReasonGranted           Reason = "granted"
	ReasonUnauthenticated   Reason = "unauthenticated"
	ReasonNoRole            Reason = "no_role"
	ReasonMissingCapability Reason = "missing_capability"
	ReasonInsufficientRole  Reason = "insufficient_role"
	ReasonNotOwner          Reason = "not_owner"
	ReasonUnavailable       Reason = "lookup_unavailable"
	ReasonCanceled          Reason = "canceled"
)

// Decision is the ephemeral outcome of one authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Role    Role   `json:"role"`
	Reason  Reason `json:"reason"`
	// Capability is the capability that granted the check, if any.
	Capability Capability `json:"capability,omitempty"`

	cause error
}

// Err converts the decision into the error the enforcement boundary reports.
// It returns nil for an allowed decision.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonUnauthenticated:
		return ErrUnauthenticated
	case ReasonUnavailable:
		if d.cause != nil {
			return d.cause
		}
		return ErrLookupUnavailable
	case ReasonCanceled:
		return d.cause
	default:
		return fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
	}
}

func allow(role Role, capability Capability) Decision {
	return Decision{Allowed: true, Role: role, Reason: ReasonGranted, Capability: capability}
}

func deny(role Role, reason Reason) Decision {
	return Decision{Role: role, Reason: reason}
}

// RequireOwner refines an allowed decision with resource ownership: it stays
// allowed only when owner is set and equals subject.
func RequireOwner(d Decision, subject uuid.UUID, owner *uuid.UUID) Decision {
	if !d.Allowed {
		return d
	}
	if owner == nil || *owner != subject {
		return deny(d.Role, ReasonNotOwner)
	}
	return d
}
