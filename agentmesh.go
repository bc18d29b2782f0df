// Package agentmesh provides a top-level convenience entry point wiring the
// protocol core together with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/agentmesh"
//
//	mesh, err := agentmesh.New()
//	mesh.Registry.Register("worker", myTarget)
//	err = mesh.Router.Route(ctx, message.NewRequest("client", []string{"worker"}, payload))
//
// This is a thin wrapper around the router, task, and artifact packages;
// applications with custom stores or tuned configs should wire those
// packages directly.
package agentmesh

import (
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/artifact"
	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/message"
	"github.com/BaSui01/agentmesh/router"
	"github.com/BaSui01/agentmesh/task"
	"github.com/BaSui01/agentmesh/types"
)

// Mesh bundles the protocol core components behind one constructor.
type Mesh struct {
	Registry  *router.Registry
	Router    *router.Router
	Tasks     *task.Manager
	Artifacts *artifact.Manager
	// Handlers is the content-handler capability set from configuration.
	// Build parts through it so disabled part types are rejected.
	Handlers message.Handlers
}

// Option configures the mesh created by [New].
type Option func(*options)

type options struct {
	cfg    *config.Config
	logger *zap.Logger
	store  artifact.Store
}

// WithConfig supplies a loaded configuration. Defaults are used otherwise.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithArtifactStore sets a custom artifact store, overriding the configured
// one.
func WithArtifactStore(store artifact.Store) Option {
	return func(o *options) { o.store = store }
}

// New creates a mesh with an empty registry, an in-memory artifact store
// unless configured otherwise, and a router honoring the protocol config.
func New(opts ...Option) (*Mesh, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := o.store
	if store == nil {
		switch cfg.Artifact.Store {
		case "sqlite":
			s, err := artifact.NewSQLiteStore(cfg.Artifact.SQLitePath)
			if err != nil {
				return nil, err
			}
			store = s
		default:
			store = artifact.NewMemoryStore()
		}
	}

	registry := router.NewRegistry()
	r := router.New(router.Config{
		EnableRouting:   cfg.Protocol.EnableRouting,
		EnableMultipart: cfg.Protocol.EnableMultipart,
		MaxMessageSize:  cfg.Protocol.MaxMessageSize,
		DeliveryRate:    cfg.Protocol.DeliveryRate,
		DeliveryBurst:   cfg.Protocol.DeliveryBurst,
	}, registry, logger)

	return &Mesh{
		Registry:  registry,
		Router:    r,
		Tasks:     task.NewManager(types.SystemClock{}, logger),
		Artifacts: artifact.NewManager(store, types.SystemClock{}, logger),
		Handlers:  message.NewHandlers(cfg.Protocol.HandlerFlags()),
	}, nil
}

// Close drains the router. Call on shutdown.
func (m *Mesh) Close() {
	m.Router.Close()
	m.Tasks.Stop()
}
