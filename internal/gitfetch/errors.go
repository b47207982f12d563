package gitfetch

import (
	"fmt"
	"strings"
)

// Typed git errors enabling structured classification without string parsing upstream.

type AuthError struct {
	URL string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("git auth error for %s: %v", e.URL, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

type NotFoundError struct {
	URL string
	Err error
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("git not found %s: %v", e.URL, e.Err) }
func (e *NotFoundError) Unwrap() error { return e.Err }

type NetworkTimeoutError struct {
	URL string
	Err error
}

func (e *NetworkTimeoutError) Error() string {
	return fmt.Sprintf("git network timeout %s: %v", e.URL, e.Err)
}
func (e *NetworkTimeoutError) Unwrap() error { return e.Err }

// classifyCloneError wraps underlying go-git errors into typed variants when possible.
func classifyCloneError(url string, err error) error {
	l := strings.ToLower(err.Error())
	switch {
	case strings.Contains(l, "authentication") || strings.Contains(l, "auth fail") || strings.Contains(l, "invalid username or password"):
		return &AuthError{URL: url, Err: err}
	case strings.Contains(l, "not found") || strings.Contains(l, "repository does not exist") || strings.Contains(l, "reference not found"):
		return &NotFoundError{URL: url, Err: err}
	case strings.Contains(l, "timeout") || strings.Contains(l, "i/o timeout"):
		return &NetworkTimeoutError{URL: url, Err: err}
	default:
		return fmt.Errorf("failed to clone %s: %w", url, err)
	}
}
