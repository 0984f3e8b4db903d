// Package nodeflow provides a top-level convenience entry point for running
// workflows in-process with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/nodeflow"
//
//	exec, err := nodeflow.New()
//	exec, err := nodeflow.New(nodeflow.WithRemoteGeneration("https://gen.internal", apiKey))
//	exec, err := nodeflow.New(nodeflow.WithCapability("upscale", factory, meta))
//
//	def, _ := workflow.LoadDefinitionFile("pipeline.yaml")
//	report, err := exec.Execute(ctx, def, map[string]any{"prompt": "a red fox"})
//
// The executor comes with the built-in capabilities registered and an
// in-memory checkpoint store; use [WithCheckpointStore] for durable runs.
package nodeflow

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/capabilities"
	"github.com/BaSui01/nodeflow/workflow"
)

type options struct {
	capabilities capabilities.Options
	store        workflow.CheckpointStore
	logger       *zap.Logger
	extra        []customCapability
	execOpts     []workflow.ExecutorOption
}

type customCapability struct {
	nodeType string
	factory  workflow.Factory
	meta     workflow.Metadata
}

// Option configures the executor created by [New].
type Option func(*options)

// WithRemoteGeneration sets the default endpoint of the remote_generation node type.
func WithRemoteGeneration(baseURL, apiKey string) Option {
	return func(o *options) {
		o.capabilities.RemoteBaseURL = baseURL
		o.capabilities.APIKey = apiKey
	}
}

// WithCapability registers an additional node type next to the built-ins.
func WithCapability(nodeType string, factory workflow.Factory, meta workflow.Metadata) Option {
	return func(o *options) {
		o.extra = append(o.extra, customCapability{nodeType: nodeType, factory: factory, meta: meta})
	}
}

// WithCheckpointStore replaces the in-memory checkpoint store.
func WithCheckpointStore(store workflow.CheckpointStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithExecutorOptions passes options straight to [workflow.NewExecutor].
func WithExecutorOptions(opts ...workflow.ExecutorOption) Option {
	return func(o *options) {
		o.execOpts = append(o.execOpts, opts...)
	}
}

// New creates a [workflow.Executor] backed by the built-in capabilities.
func New(opts ...Option) (*workflow.Executor, error) {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	o.capabilities.Logger = o.logger

	reg, err := capabilities.NewRegistry(o.capabilities)
	if err != nil {
		return nil, err
	}
	for _, c := range o.extra {
		if err := reg.Register(c.nodeType, c.factory, c.meta); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.nodeType, err)
		}
	}

	execOpts := []workflow.ExecutorOption{workflow.WithLogger(o.logger)}
	if o.store != nil {
		execOpts = append(execOpts, workflow.WithCheckpointStore(o.store))
	}
	return workflow.NewExecutor(reg, append(execOpts, o.execOpts...)...), nil
}
