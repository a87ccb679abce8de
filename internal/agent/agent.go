// Package agent is the debug agent's explicitly constructed context. Load
// wires the registry, the driver, the interceptor and the fault handler
// into the runtime's function table; Unload takes them apart again.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/codeobject"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/config"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/handler"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/intercept"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/kfd"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/metrics"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/preempt"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/registry"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/report"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/logutil"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var Version = "2.0.1"

const (
	minTableMajor = 1
	minTableMinor = 48
)

var (
	ErrHelp         = errors.New("usage requested")
	ErrFailedTools  = errors.New("runtime reported failed tools")
	ErrTableVersion = errors.New("runtime function table is too old")
)

type Agent struct {
	cfg     *config.Config
	table   *intercept.CoreTable
	logger  *zap.Logger
	metrics *metrics.Metrics
	prom    *prometheus.Registry

	session *codeobject.Session
	reg     *registry.Registry
	driver  kfd.Driver
	mem     kfd.MemoryReader
	handler *handler.Handler
	ic      *intercept.Interceptor
	traps   []trapBuffer

	closers     []io.Closer
	stopSignals context.CancelFunc

	topologyRoot string
	debugger     handler.Debugger
	abort        func(error)
	exporter     report.Exporter
}

type Option func(*Agent)

func WithConfig(c *config.Config) Option { return func(a *Agent) { a.cfg = c } }
func WithLogger(l *zap.Logger) Option { return func(a *Agent) { a.logger = l } }
func WithDriver(d kfd.Driver) Option { return func(a *Agent) { a.driver = d } }
func WithTopologyRoot(root string) Option { return func(a *Agent) { a.topologyRoot = root } }
func WithDebugger(d handler.Debugger) Option { return func(a *Agent) { a.debugger = d } }
func WithAbort(fn func(error)) Option { return func(a *Agent) { a.abort = fn } }
func WithExporter(e report.Exporter) Option { return func(a *Agent) { a.exporter = e } }
func WithMemory(m kfd.MemoryReader) Option { return func(a *Agent) { a.mem = m } }

// Load is called once by the runtime with its function table. On success
// the table's queue and executable entries route through the agent.
func Load(table *intercept.CoreTable, runtimeVersion uint64, failedTools []string, opts ...Option) (ag *Agent, err error) {
	a := &Agent{table: table, topologyRoot: kfd.TopologyRoot}
	for _, o := range opts {
		o(a)
	}
	if a.cfg == nil {
		a.cfg = config.LoadConfig()
	}
	if a.logger == nil {
		if err := logutil.Configure(a.cfg.LogDest, a.cfg.LogLevel, a.cfg.SessionID); err != nil {
			logutil.GetLogger().Warn("keeping default logger", zap.Error(err))
		}
		a.logger = logutil.GetLogger()
	}
	logger := a.logger
	logger.Info(fmt.Sprintf("ROCm debug agent version: %s", Version), zap.Uint64("runtime_version", runtimeVersion))

	if a.cfg.Help {
		fmt.Fprint(os.Stderr, config.Usage())
		return nil, ErrHelp
	}
	if len(failedTools) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrFailedTools, failedTools)
	}
	if table == nil {
		return nil, intercept.ErrNoTable
	}
	if !table.AtLeast(minTableMajor, minTableMinor) {
		return nil, fmt.Errorf("%w: %d.%d, need %d.%d", ErrTableVersion,
			table.MajorVersion, table.MinorVersion, minTableMajor, minTableMinor)
	}

	defer func() {
		if err != nil {
			err = multierr.Append(err, a.teardown())
		}
	}()

	dir := a.cfg.CodeObjectDir
	if dir == "" {
		dir = codeobject.DefaultDir(a.cfg.SessionID)
	}
	if a.session, err = codeobject.NewSession(dir, a.cfg.RetainCodeObjects, logger); err != nil {
		return nil, err
	}
	a.reg = registry.New(a.session, logger)

	topo, terr := kfd.ReadTopology(a.topologyRoot)
	if terr != nil {
		logger.Warn("cannot read kfd topology", zap.String("root", a.topologyRoot), zap.Error(terr))
	}
	if err = discoverAgents(table, a.reg, topo, logger); err != nil {
		return nil, err
	}

	if a.driver == nil {
		dev, err := kfd.Open(kfd.DevicePath, logger)
		if err != nil {
			return nil, err
		}
		a.driver = dev
		a.closers = append(a.closers, dev)
	}
	if a.mem == nil {
		pm, err := kfd.OpenProcMem(kfd.SelfMemPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pm)
		a.mem = pm
	}

	a.metrics = metrics.New()
	a.prom = prometheus.NewRegistry()
	if err = a.metrics.Register(a.prom); err != nil {
		return nil, err
	}

	printer, err := a.newPrinter()
	if err != nil {
		return nil, err
	}

	ctl := preempt.NewController(a.driver, a.mem, os.Getpid(), logger, a.metrics)
	hopts := []handler.Option{
		handler.WithPrintAll(a.cfg.PrintAll),
		handler.WithIdentity(a.cfg.Nodename, a.cfg.SessionID),
		handler.WithLogger(logger),
		handler.WithMetrics(a.metrics),
	}
	if a.cfg.DebuggerAttached {
		if a.debugger == nil {
			a.debugger = breakpointDebugger{logger: logger}
		}
		hopts = append(hopts, handler.WithDebugger(a.debugger))
	}
	if a.abort != nil {
		hopts = append(hopts, handler.WithAbort(a.abort))
	}
	a.handler = handler.New(a.reg, ctl, printer, hopts...)

	a.ic, err = intercept.Install(table, a.reg, a.handler.Slot(), a.handler.HandleQueueError,
		intercept.WithEventHook(a.handler.Notify),
		intercept.WithLogger(logger),
		intercept.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}

	if table.SetSystemEventHandler != nil {
		if st := table.SetSystemEventHandler(a.handler.HandleSystemEvent); !st.Ok() {
			return nil, fmt.Errorf("setting system event handler: %s", st)
		}
	}

	if a.cfg.DebuggerAttached {
		if err = a.setupTrapHandlers(); err != nil {
			return nil, err
		}
	}

	if !a.cfg.DisableSignals {
		a.watchSignals()
	}

	logger.Info("debug agent loaded", zap.String("session", a.cfg.SessionID), zap.String("dir", a.session.Dir()))
	return a, nil
}

func (a *Agent) newPrinter() (*report.Printer, error) {
	dest, err := report.OpenDestination(a.cfg.WaveStateDump, a.cfg.OutputFile, a.session.WaveDumpPath(), a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, dest)

	symbols, err := codeobject.NewCache(codeobject.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	a.session.EvictFrom(symbols)

	exporter := a.exporter
	if exporter == nil && a.cfg.ServerAdress != "" {
		client, err := grpc.NewGrpcClient(a.cfg.ServerAdress, a.cfg.Serverport, nil)
		if err != nil {
			a.logger.Warn("report exporter disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, client)
			exporter = client
		}
	}

	opts := []report.Option{
		report.WithDisassembler(report.ObjdumpDisassembler{Path: a.cfg.Disassembler}),
		report.WithSymbols(symbols),
		report.WithMetrics(a.metrics),
		report.WithLogger(a.logger),
	}
	if exporter != nil {
		opts = append(opts, report.WithExporter(exporter))
	}
	return report.NewPrinter(dest, opts...), nil
}

// Registry exposes the agent's registry. Callers must hold its lock.
func (a *Agent) Registry() *registry.Registry { return a.reg }

func (a *Agent) Handler() *handler.Handler { return a.handler }

func (a *Agent) Gatherer() prometheus.Gatherer { return a.prom }

func (a *Agent) SessionDir() string { return a.session.Dir() }

// Unload restores the runtime table and releases everything Load acquired.
func (a *Agent) Unload() error {
	a.logger.Info("unloading debug agent")
	return a.teardown()
}

func (a *Agent) teardown() error {
	var errs error
	if a.stopSignals != nil {
		a.stopSignals()
		a.stopSignals = nil
	}
	if a.ic != nil {
		a.ic.Uninstall(a.table)
		a.ic = nil
	}
	errs = multierr.Append(errs, a.clearTrapHandlers())
	if a.reg != nil {
		a.reg.Lock()
		errs = multierr.Append(errs, a.reg.Clear())
		a.reg.Unlock()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i].Close())
	}
	a.closers = nil
	if a.session != nil {
		errs = multierr.Append(errs, a.session.Close())
		a.session = nil
	}
	if a.prom != nil {
		a.metrics.Unregister(a.prom)
	}
	return errs
}

// gpuEventBreakpoint is where an attached host debugger sets its breakpoint.
//
//go:noinline
func gpuEventBreakpoint(ev types.Event) {}

type breakpointDebugger struct {
	logger *zap.Logger
}

func (d breakpointDebugger) GPUEvent(ev types.Event) {
	d.logger.Debug("GPU event", zap.String("event", types.Describe(ev)))
	gpuEventBreakpoint(ev)
}
