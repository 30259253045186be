// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package server contains the `gateway server` subcommand which runs the
// gateway itself. The purpose of this package is to define an easily tested
// Command object which handles interpreting configuration and setting up all
// the objects that the gateway needs.
package server

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	jaeger "github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"golang.org/x/sync/errgroup"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/bridge"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/fragmenter"
	gwhttp "github.com/featurebasedb/gateway/http"
	"github.com/featurebasedb/gateway/logger"
	"github.com/featurebasedb/gateway/plugins/demo"
	"github.com/featurebasedb/gateway/plugins/file"
	"github.com/featurebasedb/gateway/plugins/jdbc"
	"github.com/featurebasedb/gateway/plugins/kafka"
	"github.com/featurebasedb/gateway/plugins/s3"
	"github.com/featurebasedb/gateway/profile"
	"github.com/featurebasedb/gateway/request"
	"github.com/featurebasedb/gateway/tracing"
	"github.com/featurebasedb/gateway/tracing/opentracing"
)

// ServiceName identifies the gateway in traces.
const ServiceName = "gateway"

// Command represents the state of the gateway server command.
type Command struct {
	// Configuration.
	Config *Config

	Handler  *gwhttp.Handler
	Profiles *profile.Registry
	Plugins  *gateway.PluginFactory
	Cache    *fragmenter.Cache

	// Standard input/output
	*gateway.CmdIO

	ln        net.Listener
	tlsConfig *tls.Config

	s3   *s3.Connector
	jdbc *jdbc.Connector

	tracerCloser io.Closer

	logger    logger.Logger
	logOutput io.Writer
	logFile   *logger.FileWriter

	// background runs the goroutines stopped by Close.
	background *errgroup.Group
	cancel     context.CancelFunc

	// done will be closed when Command.Close() is called
	done chan struct{}
}

type CommandOption func(c *Command) error

// OptCommandConfig replaces the default configuration.
func OptCommandConfig(config *Config) CommandOption {
	return func(c *Command) error {
		c.Config = config
		return nil
	}
}

// NewCommand returns a new instance of Command.
func NewCommand(stdin io.Reader, stdout, stderr io.Writer, opts ...CommandOption) (*Command, error) {
	c := &Command{
		Config: NewConfig(),

		CmdIO: gateway.NewCmdIO(stdin, stdout, stderr),

		done: make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}
	return c, nil
}

// Start starts the gateway.
func (m *Command) Start() error {
	if err := m.setupServer(); err != nil {
		return errors.Wrap(err, "setting up server")
	}

	var ctx context.Context
	ctx, m.cancel = context.WithCancel(context.Background())
	m.background, ctx = errgroup.WithContext(ctx)
	m.background.Go(m.Handler.Serve)
	m.background.Go(func() error {
		m.Cache.Run(ctx, time.Duration(m.Config.FragmenterCache.CleanupInterval))
		return nil
	})

	scheme := "http"
	if m.tlsConfig != nil {
		scheme = "https"
	}
	m.logger.Printf("listening as %s://%s", scheme, m.ln.Addr())
	return nil
}

// Addr returns the address the server listens on. It is nil before Start.
func (m *Command) Addr() net.Addr {
	if m.ln == nil {
		return nil
	}
	return m.ln.Addr()
}

// Wait waits for the server to be closed or interrupted.
func (m *Command) Wait() error {
	// First signal causes server to shut down gracefully.
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		m.logger.Infof("received signal '%s', gracefully shutting down...", sig.String())

		// Second signal causes a hard shutdown.
		go func() { <-c; os.Exit(1) }()
		return errors.Wrap(m.Close(), "closing command")
	case <-m.done:
		m.logger.Infof("server closed externally")
		return nil
	}
}

// Close shuts down the server.
func (m *Command) Close() error {
	select {
	case <-m.done:
		return nil
	default:
	}
	defer close(m.done)

	eg := errgroup.Group{}
	if m.Handler != nil {
		eg.Go(m.Handler.Close)
	}
	if m.jdbc != nil {
		eg.Go(m.jdbc.Close)
	}
	if m.tracerCloser != nil {
		eg.Go(m.tracerCloser.Close)
	}
	err := eg.Wait()

	if m.cancel != nil {
		m.cancel()
	}
	if m.background != nil {
		if berr := m.background.Wait(); err == nil {
			err = berr
		}
	}
	tracing.GlobalTracer = tracing.NopTracer()
	if m.logFile != nil {
		if lerr := m.logFile.Close(); err == nil {
			err = lerr
		}
	}
	return errors.Wrap(err, "closing everything")
}

// Logger returns the logger the server writes to.
func (m *Command) Logger() logger.Logger {
	if m.logger == nil {
		return m.CmdIO.Logger()
	}
	return m.logger
}

// setupServer uses the configuration to set up this server.
func (m *Command) setupServer() error {
	if err := m.setupLogger(); err != nil {
		return errors.Wrap(err, "setting up logger")
	}
	if err := m.Config.Validate(); err != nil {
		return errors.Wrap(err, "validating config")
	}
	m.logger.Infof("%s", gateway.VersionInfo())

	if err := m.setupTracer(); err != nil {
		return errors.Wrap(err, "setting up tracer")
	}

	var err error
	if m.Profiles, err = profile.NewRegistry(); err != nil {
		return errors.Wrap(err, "loading built-in profiles")
	}
	if m.Config.ProfilesFile != "" {
		if err := m.Profiles.LoadFile(m.Config.ProfilesFile, m.logger); err != nil {
			return errors.Wrap(err, "loading profiles file")
		}
	}

	m.setupPlugins()

	fh := &gateway.RetryingFailureHandler{
		Logger: m.logger.WithPrefix("[retry] "),
		Renew:  m.s3.Renew,
	}
	m.Cache = fragmenter.NewCache(time.Duration(m.Config.FragmenterCache.Expiration))
	fragments := fragmenter.NewService(m.Cache, m.Plugins, fh, m.logger)

	parser := request.NewParser(m.Profiles, m.Plugins, m.logger)
	parser.APIVersion = m.Config.APIVersion

	if m.tlsConfig, err = GetTLSConfig(m.Config.TLS, m.logger); err != nil {
		return errors.Wrap(err, "getting tls config")
	}
	if m.ln, err = getListener(normalizeBind(m.Config.Bind), m.tlsConfig); err != nil {
		return errors.Wrap(err, "getting listener")
	}

	handlerOpts := []gwhttp.HandlerOption{
		gwhttp.OptHandlerParser(parser),
		gwhttp.OptHandlerFragmentService(fragments),
		gwhttp.OptHandlerBridge(bridge.New(m.Plugins, fragments, fh, m.logger)),
		gwhttp.OptHandlerLogger(m.logger),
		gwhttp.OptHandlerMetrics(m.Config.MetricsEnabled()),
		gwhttp.OptHandlerListener(m.ln),
	}
	if m.Config.AccessLog {
		handlerOpts = append(handlerOpts, gwhttp.OptHandlerAccessLog(m.logOutput))
	}
	if m.Handler, err = gwhttp.NewHandler(handlerOpts...); err != nil {
		return errors.Wrap(err, "new handler")
	}
	return nil
}

// setupPlugins registers every connector.
func (m *Command) setupPlugins() {
	m.Plugins = gateway.NewPluginFactory()
	m.s3 = s3.NewConnector(m.Config.S3, m.logger.WithPrefix("[s3] "))
	m.jdbc = jdbc.NewConnector(m.Config.JDBC, m.logger.WithPrefix("[jdbc] "))

	demo.Register(m.Plugins, m.logger)
	file.Register(m.Plugins, m.Config.BaseDir)
	s3.Register(m.Plugins, m.s3)
	kafka.Register(m.Plugins, kafka.NewConnector(m.Config.Kafka, m.logger.WithPrefix("[kafka] ")))
	jdbc.Register(m.Plugins, m.jdbc)

	for kind, names := range m.Plugins.Names() {
		m.logger.Debugf("registered %d %s plugins: %v", len(names), kind, names)
	}
}

// setupTracer installs a Jaeger tracer as the global tracer unless tracing
// is off.
func (m *Command) setupTracer() error {
	if m.Config.Tracing.SamplerType == SamplerTypeOff || m.Config.Tracing.SamplerType == "" {
		return nil
	}
	cfg := jaegercfg.Configuration{
		ServiceName: ServiceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  m.Config.Tracing.SamplerType,
			Param: m.Config.Tracing.SamplerParam,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LocalAgentHostPort: m.Config.Tracing.AgentHostPort,
		},
	}
	tracer, closer, err := cfg.NewTracer(jaegercfg.Logger(jaegerLogger{m.logger}))
	if err != nil {
		return errors.Wrap(err, "creating jaeger tracer")
	}
	m.tracerCloser = closer
	tracing.GlobalTracer = opentracing.NewTracer(tracer)
	return nil
}

// jaegerLogger sends the tracer's messages to the server log.
type jaegerLogger struct {
	logger logger.Logger
}

var _ jaeger.Logger = jaegerLogger{}

func (l jaegerLogger) Error(msg string) { l.logger.Errorf("jaeger: %s", msg) }

func (l jaegerLogger) Infof(msg string, args ...interface{}) {
	l.logger.Debugf("jaeger: "+msg, args...)
}

// setupLogger sets up the logger based on the configuration.
func (m *Command) setupLogger() error {
	if m.Config.LogPath == "" {
		m.logOutput = m.Stderr
	} else {
		f, err := logger.NewFileWriter(m.Config.LogPath)
		if err != nil {
			return errors.Wrap(err, "opening file")
		}
		m.logFile = f
		m.logOutput = f
	}
	m.logger = logger.NewLogger(m.logOutput, m.Config.Verbose)

	if m.logFile != nil {
		sighup := make(chan os.Signal, 1)
		signal.Notify(sighup, syscall.SIGHUP)
		go func() {
			defer signal.Stop(sighup)
			for {
				select {
				case <-sighup:
					// reopen log file on SIGHUP
					if err := m.logFile.Reopen(); err != nil {
						m.logger.Errorf("reopen: %s", err.Error())
					}
				case <-m.done:
					return
				}
			}
		}()
	}
	return nil
}

// getListener gets a net.Listener for bind, serving TLS if tlsconf is set.
func getListener(bind string, tlsconf *tls.Config) (net.Listener, error) {
	if tlsconf != nil {
		ln, err := tls.Listen("tcp", bind, tlsconf)
		return ln, errors.Wrap(err, "tls.Listen")
	}
	ln, err := net.Listen("tcp", bind)
	return ln, errors.Wrap(err, "net.Listen")
}
