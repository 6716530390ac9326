package rbac

import (
	"fmt"

	"github.com/projecthub/projecthub/internal/platform/httpx"
)

var (
	// ErrUnauthenticated means no caller identity could be established.
	ErrUnauthenticated = fmt.Errorf("rbac: no caller identity: %w", httpx.ErrUnauthorized)
	// ErrForbidden means the caller is known but the guard denied the operation.
	ErrForbidden = fmt.Errorf("rbac: %w", httpx.ErrForbidden)
	// ErrLookupUnavailable means role bindings could not be read. Callers
	// should surface a retryable server error, never a permission denial.
	ErrLookupUnavailable = fmt.Errorf("rbac: role lookup unavailable: %w", httpx.ErrUnavailable)
	// ErrScopeNotFound means the organization or project targeted does not exist.
	ErrScopeNotFound = fmt.Errorf("rbac: scope %w", httpx.ErrNotFound)
)
