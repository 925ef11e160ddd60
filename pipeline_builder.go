package trajingest

import (
	"fmt"

	"github.com/chararch/trajingest/checkpoint"
	"github.com/chararch/trajingest/file"
	"github.com/chararch/trajingest/record"
	"github.com/chararch/trajingest/sink"
)

type pipelineBuilder struct {
	name              string
	cfg               Config
	layout            record.Layout
	source            *file.Enumerator
	sink              sink.Connector
	store             checkpoint.Store
	failedLog         checkpoint.FailedLog
	recorder          Recorder
	pipelineListeners []PipelineListener
	laneListeners     []LaneListener
	batchListeners    []BatchListener
	progressListeners []ProgressListener
}

// NewPipeline new instance of pipeline builder
func NewPipeline(name string) *pipelineBuilder {
	if name == "" {
		panic("pipeline name must not be empty")
	}
	return &pipelineBuilder{
		name:   name,
		cfg:    DefaultConfig(),
		layout: record.DefaultLayout(),
	}
}

func (builder *pipelineBuilder) Config(cfg Config) *pipelineBuilder {
	builder.cfg = cfg
	return builder
}

func (builder *pipelineBuilder) Layout(layout record.Layout) *pipelineBuilder {
	builder.layout = layout
	return builder
}

func (builder *pipelineBuilder) Source(source *file.Enumerator) *pipelineBuilder {
	builder.source = source
	return builder
}

func (builder *pipelineBuilder) Sink(connector sink.Connector) *pipelineBuilder {
	builder.sink = connector
	return builder
}

// Checkpoint sets where progress is kept. Without it a run always starts from the beginning.
func (builder *pipelineBuilder) Checkpoint(store checkpoint.Store, failedLog checkpoint.FailedLog) *pipelineBuilder {
	builder.store = store
	builder.failedLog = failedLog
	return builder
}

func (builder *pipelineBuilder) Recorder(recorder Recorder) *pipelineBuilder {
	builder.recorder = recorder
	return builder
}

func (builder *pipelineBuilder) Listener(listener ...interface{}) *pipelineBuilder {
	for _, l := range listener {
		matched := false
		if ll, ok := l.(PipelineListener); ok {
			builder.pipelineListeners = append(builder.pipelineListeners, ll)
			matched = true
		}
		if ll, ok := l.(LaneListener); ok {
			builder.laneListeners = append(builder.laneListeners, ll)
			matched = true
		}
		if ll, ok := l.(BatchListener); ok {
			builder.batchListeners = append(builder.batchListeners, ll)
			matched = true
		}
		if ll, ok := l.(ProgressListener); ok {
			builder.progressListeners = append(builder.progressListeners, ll)
			matched = true
		}
		if !matched {
			panic(fmt.Sprintf("not supported listener:%+v for pipeline:%v", l, builder.name))
		}
	}
	return builder
}

func (builder *pipelineBuilder) Build() (*Pipeline, error) {
	if err := builder.cfg.Validate(); err != nil {
		return nil, NewBatchError(ErrCodeSetup, "invalid config for pipeline:%v", builder.name, err)
	}
	if builder.source == nil || builder.source.Transport == nil {
		return nil, NewBatchError(ErrCodeSetup, "pipeline:%v has no source", builder.name)
	}
	if builder.sink == nil {
		return nil, NewBatchError(ErrCodeSetup, "pipeline:%v has no sink", builder.name)
	}
	decoder, err := record.NewDecoder(builder.layout)
	if err != nil {
		return nil, NewBatchError(ErrCodeSetup, "invalid layout for pipeline:%v", builder.name, err)
	}
	cfg := builder.cfg
	if cfg.RetryPolicy == "" {
		cfg.RetryPolicy = RetryIndividually
	}
	p := &Pipeline{
		name:              builder.name,
		cfg:               cfg,
		decoder:           decoder,
		source:            builder.source,
		sink:              builder.sink,
		store:             builder.store,
		failedLog:         builder.failedLog,
		recorder:          builder.recorder,
		pipelineListeners: builder.pipelineListeners,
		laneListeners:     builder.laneListeners,
		batchListeners:    builder.batchListeners,
		progressListeners: builder.progressListeners,
	}
	if p.store == nil {
		p.store = nopStore{}
	}
	if p.failedLog == nil {
		p.failedLog = nopStore{}
	}
	if p.recorder == nil {
		p.recorder = nopRecorder{}
	}
	return p, nil
}
