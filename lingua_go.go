package lingua

import (
	"github.com/meridian-analytics/lingua/options"
)

// NewGoSession creates a session backed by the pure Go backend. It is always
// available; use NewXLASession with the XLA build tag for accelerated
// inference.
func NewGoSession(opts ...options.WithOption) (*Session, error) {
	return newSession("GO", opts...)
}
