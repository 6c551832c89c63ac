//go:build XLA || ALL

package lingua

import (
	_ "github.com/gomlx/gomlx/backends/default" // import XLA backend

	"github.com/meridian-analytics/lingua/options"
)

func NewXLASession(opts ...options.WithOption) (*Session, error) {
	return newSession("XLA", opts...)
}
