package models

import (
	"errors"
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/types/tensors"

	"github.com/meridian-analytics/lingua/options"
	"github.com/meridian-analytics/lingua/util"

	_ "github.com/gomlx/gomlx/backends/simplego"
)

// Model holds a GoMLX computation context with the model's weights and an
// executor compiled for the selected backend.
type Model struct {
	Config  *Config
	Backend backends.Backend
	Ctx     *context.Context
	Exec    *context.Exec
	Call    func(ctx *context.Context, inputs []*graph.Node) []*graph.Node

	checkpoint *checkpoints.Handler
}

// New creates a model with freshly initialized weights for the given
// architecture. If modelDir contains a checkpoint, the weights are restored
// from it instead.
func New(config *Config, modelDir string, opts *options.Options) (*Model, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var insideError error
	var model *Model

	// goMLX signals errors through panics. We catch them all here so the
	// calling program has a chance to shut down gracefully on error.
	recoverErr := exceptions.TryCatch[error](func() {
		backend := backends.NewWithConfig(opts.BackendConfig())

		ctx := context.New()

		var callFunc func(ctx *context.Context, inputs []*graph.Node) []*graph.Node
		switch config.Kind {
		case KindSentiment:
			callFunc = func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
				return []*graph.Node{ClassifierGraph(ctx, config, inputs[0])}
			}
		case KindTranslator:
			callFunc = func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
				return []*graph.Node{TranslatorGraph(ctx, config, inputs[0], inputs[1])}
			}
		default:
			insideError = fmt.Errorf("unknown model kind %q", config.Kind)
			return
		}

		model = &Model{
			Config:  config,
			Backend: backend,
			Ctx:     ctx,
			Call:    callFunc,
		}

		if modelDir != "" {
			if insideError = model.attachCheckpoint(modelDir); insideError != nil {
				return
			}
		}
	})
	if err := errors.Join(insideError, recoverErr); err != nil {
		return nil, err
	}
	return model, nil
}

// Load restores a model from a directory previously written by Save: it reads
// config.json and the latest checkpoint.
func Load(modelDir string, opts *options.Options) (*Model, error) {
	exists, err := util.FileExists(util.PathJoinSafe(modelDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("no config.json found in %s", modelDir)
	}
	config, err := LoadConfig(modelDir)
	if err != nil {
		return nil, err
	}
	return New(config, modelDir, opts)
}

func (m *Model) attachCheckpoint(modelDir string) error {
	handler, err := checkpoints.Build(m.Ctx).Dir(modelDir).Keep(1).Done()
	if err != nil {
		return fmt.Errorf("failed to attach checkpoint at %s: %w", modelDir, err)
	}
	m.checkpoint = handler
	return nil
}

// Save writes the current weights as a checkpoint into modelDir, together
// with config.json.
func (m *Model) Save(modelDir string) error {
	if m.checkpoint == nil {
		if err := m.attachCheckpoint(modelDir); err != nil {
			return err
		}
	}
	var insideError error
	recoverErr := exceptions.TryCatch[error](func() {
		insideError = m.checkpoint.Save()
	})
	if err := errors.Join(insideError, recoverErr); err != nil {
		return err
	}
	return m.Config.Save(modelDir)
}

// CompileInference builds the inference executor. Training attaches its own
// trainer instead, so this is only called by pipelines.
func (m *Model) CompileInference() {
	// Checked(false) reuses the variables restored from a checkpoint and
	// creates them on the fly for a freshly initialized model.
	exec := context.NewExec(m.Backend, m.Ctx.Checked(false), m.Call)
	exec.SetMaxCache(-1)
	m.Exec = exec
}

// Forward runs the model on the given input tensors and returns the outputs.
func (m *Model) Forward(inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	if m.Exec == nil {
		return nil, errors.New("model executor is not compiled, call CompileInference first")
	}
	var outputs []*tensors.Tensor
	recoverErr := exceptions.TryCatch[error](func() {
		outputs = m.Exec.Call(inputs)
	})
	if recoverErr != nil {
		return nil, recoverErr
	}
	return outputs, nil
}

// Destroy releases the executor, the weights and the backend.
func (m *Model) Destroy() {
	if m.Exec != nil {
		m.Exec.Finalize()
		m.Exec = nil
	}
	if m.Ctx != nil {
		m.Ctx.Finalize()
		m.Ctx = nil
	}
	if m.Backend != nil {
		m.Backend.Finalize()
		m.Backend = nil
	}
}
