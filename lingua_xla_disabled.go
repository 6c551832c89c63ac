//go:build !XLA && !ALL

package lingua

import (
	"errors"

	"github.com/meridian-analytics/lingua/options"
)

func NewXLASession(_ ...options.WithOption) (*Session, error) {
	return nil, errors.New("to enable XLA, run `go build -tags XLA` or `go build -tags ALL`")
}
