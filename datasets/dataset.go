package datasets

import (
	"github.com/gomlx/gomlx/ml/train"
)

// Dataset is implemented by all training datasets in this package. It extends
// the gomlx train.Dataset interface with validation, verbosity and cleanup.
type Dataset interface {
	train.Dataset
	Validate() error
	SetVerbose(bool)
	Close() error
}
