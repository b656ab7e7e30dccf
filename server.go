package scrollback

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/core"
	"pkt.systems/scrollback/internal/eventbus"
	"pkt.systems/scrollback/internal/feed"
	"pkt.systems/scrollback/internal/remotesink"
	"pkt.systems/scrollback/schema"
	"pkt.systems/scrollback/sshserver"
)

// Server composes the SSH front door, the export collector and the log
// followers around one session registry.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	Registry() *core.Registry
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service   schema.ServiceConfig
	SSH       SSHConfig
	Collector remotesink.Config
	Feeds     []FeedConfig
}

// SSHConfig defines SSH server settings.
type SSHConfig struct {
	Addr               string
	HostKeyPath        string
	AuthorizedKeysPath string
}

// FeedConfig names a file followed into its own session.
type FeedConfig struct {
	Title     string
	Path      string
	FromStart bool
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	Opener    core.SinkOpener
	Decoders  core.DecoderFactory
	EventSink core.EventSink
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableSSH       bool
	enableCollector bool
	enableFeeds     bool
}

// WithSSH enables the SSH server.
func WithSSH() ServerOption {
	return func(o *serverOptions) { o.enableSSH = true }
}

// WithCollector enables the gRPC export collector.
func WithCollector() ServerOption {
	return func(o *serverOptions) { o.enableCollector = true }
}

// WithFeeds enables the configured log followers.
func WithFeeds() ServerOption {
	return func(o *serverOptions) { o.enableFeeds = true }
}

// New constructs a composable scrollback server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableSSH && !options.enableCollector && !options.enableFeeds {
		return nil, errors.New("no services enabled")
	}
	if options.enableFeeds && len(cfg.Feeds) == 0 {
		return nil, errors.New("no feeds configured")
	}
	cfg.Service = cfg.Service.WithDefaults()

	bus := eventbus.New(nil)
	var sink core.EventSink = bus
	if deps.EventSink != nil {
		sink = eventFanout{sinks: []core.EventSink{deps.EventSink, bus}}
	}
	registry := core.NewRegistry(cfg.Service, sink)

	var sshSrv *sshserver.Server
	if options.enableSSH {
		if deps.Decoders == nil {
			return nil, errors.New("decoder factory is required for SSH")
		}
		sshSrv = &sshserver.Server{
			Addr:               cfg.SSH.Addr,
			HostKeyPath:        cfg.SSH.HostKeyPath,
			AuthorizedKeysPath: cfg.SSH.AuthorizedKeysPath,
			Registry:           registry,
			Deps: core.ControllerDeps{
				Opener:    deps.Opener,
				Decoders:  deps.Decoders,
				EventSink: sink,
				Reporter:  bus,
				Tasks:     core.NewTaskSet(),
			},
			EventBus: bus,
		}
	}
	var collector *remotesink.Server
	if options.enableCollector {
		collector = remotesink.NewServer(cfg.Collector)
	}

	return &compositeServer{
		cfg:       cfg,
		options:   options,
		registry:  registry,
		bus:       bus,
		sshSrv:    sshSrv,
		collector: collector,
	}, nil
}

type compositeServer struct {
	cfg       ServerConfig
	options   serverOptions
	registry  *core.Registry
	bus       *eventbus.Bus
	sshSrv    *sshserver.Server
	collector *remotesink.Server
	logger    pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	done    chan struct{}
	err     error
	started bool
}

func (s *compositeServer) Registry() *core.Registry {
	return s.registry
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(s.ctx)
	s.group = group
	s.done = make(chan struct{})
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"ssh", s.options.enableSSH,
		"collector", s.options.enableCollector,
		"feeds", len(s.cfg.Feeds),
		"ssh_addr", s.cfg.SSH.Addr,
		"collector_addr", s.cfg.Collector.Addr,
	)
	if s.options.enableFeeds {
		for _, fc := range s.cfg.Feeds {
			title := fc.Title
			if title == "" {
				title = filepath.Base(fc.Path)
			}
			sess := s.registry.Create(title)
			follower := feed.NewFollower(fc.Path, sess, feed.Options{FromStart: fc.FromStart})
			feedLog := log.With("session", sess.ID(), "path", fc.Path)
			group.Go(func() error {
				if err := follower.Run(pslog.ContextWithLogger(groupCtx, feedLog)); err != nil {
					feedLog.Error("feed follow failed", "err", err)
					return fmt.Errorf("feed %s: %w", fc.Path, err)
				}
				return nil
			})
		}
	}
	if s.sshSrv != nil {
		group.Go(func() error {
			if err := s.sshSrv.ListenAndServe(groupCtx); err != nil {
				log.Error("ssh server failed", "err", err)
				return err
			}
			return nil
		})
	}
	if s.collector != nil {
		group.Go(func() error {
			if err := s.collector.ListenAndServe(groupCtx); err != nil {
				log.Error("collector server failed", "err", err)
				return err
			}
			return nil
		})
	}
	go func() {
		err := group.Wait()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	done := s.done
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}
	<-done
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		pslog.Ctx(s.ctx).Error("server stopped", "err", err)
	}
	return err
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	done := s.done
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	for _, sess := range s.registry.List() {
		s.registry.Remove(sess.ID())
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return nil
	}
}
