package shared

import (
	"fmt"

	"github.com/projecthub/projecthub/internal/platform/httpx"
)

var (
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", httpx.ErrUnauthorized)
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = fmt.Errorf("csrf token missing: %w", httpx.ErrForbidden)
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = fmt.Errorf("csrf token mismatch: %w", httpx.ErrForbidden)
)
