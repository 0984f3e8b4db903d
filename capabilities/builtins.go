package capabilities

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/config"
	"github.com/BaSui01/nodeflow/internal/tlsutil"
	"github.com/BaSui01/nodeflow/workflow"
)

// 内置节点类型
const (
	TypeConstant         = "constant"
	TypeTextTemplate     = "text_template"
	TypeDelay            = "delay"
	TypeRemoteGeneration = "remote_generation"
)

// Options configures the built-in capabilities.
type Options struct {
	// RemoteBaseURL is the default generation service endpoint. Nodes may
	// override it with the base_url param.
	RemoteBaseURL  string
	APIKey         string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	CostPerCall    float64

	// HTTPClient overrides the client built from RequestTimeout.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// OptionsFromConfig maps the engine's remote generation section onto Options.
func OptionsFromConfig(cfg config.RemoteGenerationConfig) Options {
	return Options{
		RemoteBaseURL:  cfg.BaseURL,
		APIKey:         cfg.APIKey,
		RequestTimeout: cfg.RequestTimeout,
		PollInterval:   cfg.PollInterval,
		CostPerCall:    cfg.CostPerCall,
	}
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = tlsutil.SecureHTTPClient(o.RequestTimeout)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// RegisterBuiltins registers every built-in node type on reg.
func RegisterBuiltins(reg *workflow.Registry, opts Options) error {
	opts = opts.withDefaults()
	remote := newRemoteClient(opts)

	builtins := []struct {
		factory workflow.Factory
		meta    workflow.Metadata
	}{
		{
			factory: newConstant,
			meta: workflow.Metadata{
				Type:        TypeConstant,
				Category:    "utility",
				DisplayName: "Constant",
				Description: "Emits the value param on its output slots.",
			},
		},
		{
			factory: newTextTemplate,
			meta: workflow.Metadata{
				Type:          TypeTextTemplate,
				Category:      "text",
				DisplayName:   "Text Template",
				Description:   "Renders a Go text/template against the node inputs.",
				DefaultParams: workflow.Params{"output": "text"},
			},
		},
		{
			factory: newDelay,
			meta: workflow.Metadata{
				Type:          TypeDelay,
				Category:      "utility",
				DisplayName:   "Delay",
				Description:   "Waits for duration while sending heartbeats, then passes inputs through.",
				DefaultParams: workflow.Params{"duration": "1s"},
			},
		},
		{
			factory: remote.factory,
			meta: workflow.Metadata{
				Type:          TypeRemoteGeneration,
				Category:      "generation",
				DisplayName:   "Remote Generation",
				Description:   "Submits a job to an asynchronous generation service and polls until it finishes.",
				HighCost:      true,
				DefaultParams: workflow.Params{"path": defaultJobsPath},
			},
		},
	}

	var errs []error
	for _, b := range builtins {
		if err := reg.Register(b.meta.Type, b.factory, b.meta); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewRegistry returns a registry holding the built-in capabilities.
func NewRegistry(opts Options) (*workflow.Registry, error) {
	reg := workflow.NewRegistry(opts.Logger)
	if err := RegisterBuiltins(reg, opts); err != nil {
		return nil, err
	}
	return reg, nil
}
