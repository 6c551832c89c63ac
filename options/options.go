package options

import (
	"fmt"
)

// Options holds the backend configuration shared by all pipelines in a session.
type Options struct {
	GoMLXOptions *GoMLXOptions
	Destroy      func() error
	Backend      string
}

func Defaults() *Options {
	return &Options{
		GoMLXOptions: &GoMLXOptions{},
		Destroy: func() error {
			return nil
		},
	}
}

type GoMLXOptions struct {
	Cuda bool
	XLA  bool
	TPU  bool
}

// WithOption is the interface for all option functions.
type WithOption func(o *Options) error

// WithCuda (XLA only) enables CUDA acceleration for the XLA backend.
func WithCuda() WithOption {
	return func(o *Options) error {
		if o.Backend == "XLA" {
			o.GoMLXOptions.Cuda = true
			return nil
		}
		return fmt.Errorf("WithCuda is only supported for the XLA backend")
	}
}

// WithTPU (XLA only) enables TPU acceleration for the XLA backend.
// Requires libtpu.so to be available (pre-installed on GKE TPU nodes).
// Set PJRT_PLUGIN_LIBRARY_PATH to the directory containing pjrt_plugin_tpu.so or libtpu.so.
func WithTPU() WithOption {
	return func(o *Options) error {
		if o.Backend == "XLA" {
			o.GoMLXOptions.TPU = true
			return nil
		}
		return fmt.Errorf("WithTPU is only supported for the XLA backend")
	}
}

// BackendConfig returns the gomlx backend configuration string for the
// selected backend and acceleration flags.
func (o *Options) BackendConfig() string {
	switch {
	case o.GoMLXOptions.Cuda:
		return "xla:cuda"
	case o.GoMLXOptions.TPU:
		return "xla:tpu"
	case o.GoMLXOptions.XLA:
		return "xla:cpu"
	default:
		return "go"
	}
}
