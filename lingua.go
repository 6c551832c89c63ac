package lingua

import (
	"errors"
	"fmt"
	"slices"

	"github.com/meridian-analytics/lingua/options"
	"github.com/meridian-analytics/lingua/pipelines"
)

// Session allows for the creation of new pipelines and holds the pipelines
// already created.
type Session struct {
	sentimentPipelines   pipelineMap[*pipelines.SentimentPipeline]
	translationPipelines pipelineMap[*pipelines.TranslationPipeline]
	options              *options.Options
}

func newSession(backend string, opts ...options.WithOption) (*Session, error) {
	parsedOptions := options.Defaults()
	parsedOptions.Backend = backend
	// Collect options into a struct, so they can be applied in the correct order later
	if backend == "XLA" {
		parsedOptions.GoMLXOptions.XLA = true
	}
	for _, option := range opts {
		err := option(parsedOptions)
		if err != nil {
			return nil, err
		}
	}

	session := &Session{
		sentimentPipelines:   map[string]*pipelines.SentimentPipeline{},
		translationPipelines: map[string]*pipelines.TranslationPipeline{},
		options:              parsedOptions,
	}
	return session, nil
}

type pipelineMap[T pipelines.Pipeline] map[string]T

func (m pipelineMap[T]) GetStats() []string {
	var stats []string
	for _, p := range m {
		stats = append(stats, p.GetStats()...)
	}
	return stats
}

// SentimentConfig is the configuration for a sentiment classification pipeline.
type SentimentConfig = pipelines.PipelineConfig[*pipelines.SentimentPipeline]

// SentimentOption is an option for a sentiment classification pipeline.
type SentimentOption = pipelines.PipelineOption[*pipelines.SentimentPipeline]

// TranslationConfig is the configuration for a translation pipeline.
type TranslationConfig = pipelines.PipelineConfig[*pipelines.TranslationPipeline]

// TranslationOption is an option for a translation pipeline.
type TranslationOption = pipelines.PipelineOption[*pipelines.TranslationPipeline]

// NewPipeline can be used to create a new pipeline of type T. The initialised
// pipeline will be returned and it will also be stored in the session object
// so that all created pipelines can be destroyed with session.Destroy() at
// once.
func NewPipeline[T pipelines.Pipeline](s *Session, pipelineConfig pipelines.PipelineConfig[T]) (T, error) {
	var pipeline T
	if pipelineConfig.Name == "" {
		return pipeline, errors.New("a name for the pipeline is required")
	}

	_, getError := GetPipeline[T](s, pipelineConfig.Name)
	var notFoundError *pipelineNotFoundError
	if getError == nil {
		return pipeline, fmt.Errorf("pipeline %s has already been initialised", pipelineConfig.Name)
	} else if !errors.As(getError, &notFoundError) {
		return pipeline, getError
	}

	switch any(pipeline).(type) {
	case *pipelines.SentimentPipeline:
		config := any(pipelineConfig).(pipelines.PipelineConfig[*pipelines.SentimentPipeline])
		pipelineInitialised, err := pipelines.NewSentimentPipeline(config, s.options)
		if err != nil {
			return pipeline, err
		}
		s.sentimentPipelines[config.Name] = pipelineInitialised
		pipeline = any(pipelineInitialised).(T)
	case *pipelines.TranslationPipeline:
		config := any(pipelineConfig).(pipelines.PipelineConfig[*pipelines.TranslationPipeline])
		pipelineInitialised, err := pipelines.NewTranslationPipeline(config, s.options)
		if err != nil {
			return pipeline, err
		}
		s.translationPipelines[config.Name] = pipelineInitialised
		pipeline = any(pipelineInitialised).(T)
	default:
		return pipeline, fmt.Errorf("pipeline type not supported: %T", pipeline)
	}
	return pipeline, nil
}

// GetPipeline can be used to retrieve a pipeline of type T with the given
// name from the session.
func GetPipeline[T pipelines.Pipeline](s *Session, name string) (T, error) {
	var pipeline T
	switch any(pipeline).(type) {
	case *pipelines.SentimentPipeline:
		p, ok := s.sentimentPipelines[name]
		if !ok {
			return pipeline, &pipelineNotFoundError{pipelineName: name}
		}
		return any(p).(T), nil
	case *pipelines.TranslationPipeline:
		p, ok := s.translationPipelines[name]
		if !ok {
			return pipeline, &pipelineNotFoundError{pipelineName: name}
		}
		return any(p).(T), nil
	default:
		return pipeline, errors.New("pipeline type not supported")
	}
}

// ClosePipeline removes a pipeline of type T with the given name from the
// session and frees its model.
func ClosePipeline[T pipelines.Pipeline](s *Session, name string) error {
	var pipeline T
	switch any(pipeline).(type) {
	case *pipelines.SentimentPipeline:
		p, ok := s.sentimentPipelines[name]
		if ok {
			delete(s.sentimentPipelines, name)
			p.Model.Destroy()
		}
	case *pipelines.TranslationPipeline:
		p, ok := s.translationPipelines[name]
		if ok {
			delete(s.translationPipelines, name)
			p.Model.Destroy()
		}
	default:
		return errors.New("pipeline type not supported")
	}
	return nil
}

type pipelineNotFoundError struct {
	pipelineName string
}

func (e *pipelineNotFoundError) Error() string {
	return fmt.Sprintf("Pipeline with name %s not found", e.pipelineName)
}

// GetStats returns runtime statistics for all initialized pipelines for
// profiling purposes. We currently record for each pipeline:
// the total runtime of the vectorization step
// the number of batch calls to the vectorization step
// the average time per vectorization batch call
// the total runtime of the model inference step
// the number of batch calls to the model inference
// the average time per inference batch call.
func (s *Session) GetStats() []string {
	return slices.Concat(
		s.sentimentPipelines.GetStats(),
		s.translationPipelines.GetStats(),
	)
}

// Destroy deletes the session and all initialized pipelines, freeing memory.
// A session should be destroyed when not needed any more, preferably with a
// defer() call.
func (s *Session) Destroy() error {
	var err error
	for _, p := range s.sentimentPipelines {
		p.Model.Destroy()
	}
	for _, p := range s.translationPipelines {
		p.Model.Destroy()
	}
	s.sentimentPipelines = nil
	s.translationPipelines = nil

	if s.options != nil {
		err = errors.Join(err, s.options.Destroy())
		s.options = nil
	}
	return err
}
