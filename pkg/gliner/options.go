package gliner

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"gliner/internal/backend"
	"gliner/internal/config"
)

type (
	Config      = config.Config
	Session     = backend.Session
	NamedTensor = backend.NamedTensor
	TensorInfo  = backend.TensorInfo
)

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config { return config.Default() }

type Option func(*options)

type options struct {
	cfg             config.Config
	logger          *zap.Logger
	registerer      prometheus.Registerer
	session         backend.Session
	modelConfigPath *string
}

func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer exports the engine metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithSession runs inference on s instead of opening the model file with a
// backend. The engine takes ownership and closes s on Close.
func WithSession(s Session) Option {
	return func(o *options) { o.session = s }
}

// WithModelConfigPath reads model-shape settings from path instead of the
// gliner_config.json next to the weights. An empty path disables it.
func WithModelConfigPath(path string) Option {
	return func(o *options) { o.modelConfigPath = &path }
}
