package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/collector"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/collector/timeserie"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/config"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/grpc/pb"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/loaders"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/metrics"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/registry"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type traceOptions struct {
	pid     int
	object  string
	metrics string
	flush   time.Duration
}

func newTraceCommand() *cobra.Command {
	var opts traceOptions

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "trace HSA queue and executable lifetimes of a running process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if opts.object != "" {
				cfg.TracerObject = opts.object
			}
			if opts.metrics != "" {
				cfg.MetricsAddress = opts.metrics
			}
			if opts.flush > 0 {
				cfg.FlushInterval = opts.flush
			}
			return runTrace(cmd.Context(), cfg, opts.pid)
		},
	}
	cmd.Flags().IntVarP(&opts.pid, "pid", "p", 0, "process whose HSA runtime is traced")
	cmd.Flags().StringVar(&opts.object, "object", "", "compiled hsatrace eBPF object")
	cmd.Flags().StringVar(&opts.metrics, "metrics", "", "metrics listen address")
	cmd.Flags().DurationVar(&opts.flush, "flush", 0, "timeline flush interval")
	_ = cmd.MarkFlagRequired("pid")
	return cmd
}

func runTrace(ctx context.Context, cfg *config.Config, pid int) error {
	log := logger()

	m := metrics.New()
	promReg := prometheus.NewRegistry()
	if err := m.Register(promReg); err != nil {
		return err
	}
	srv := &http.Server{Addr: cfg.MetricsAddress, Handler: metricsMux(promReg)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics endpoint failed", zap.Error(err))
		}
	}()
	defer srv.Close()

	reg := registry.New(nil, log)
	mirror := collector.NewRegistryMirror(reg, m)
	timeline := timeserie.NewTimeSeriesCollector(cfg.Nodename)

	probes := cfg.EnableProbes
	if len(probes) == 0 {
		probes = []string{types.LoaderHsaRuntime}
	}
	tcfg := loaders.TracerConfig{Pid: pid, ObjectPath: cfg.TracerObject, FlushInterval: cfg.FlushInterval}

	var lds []types.Gpu_loaders
	for _, program := range probes {
		loaderInstance, err := loaders.NewEbpfGpuLoaders(program, tcfg, timeline, mirror)
		if err != nil {
			log.Error("error to load tracer", zap.String("program", program), zap.Error(err))
			continue
		}
		defer loaderInstance.Close()
		lds = append(lds, loaderInstance)
		log.Info("Load successfully loader:", zap.String("Loader", program))
	}
	if len(lds) == 0 {
		return errors.New("no tracer could be loaded")
	}

	if cfg.ServerAdress == "" {
		log.Info("no collector configured, timeline batches are only logged")
		drain(ctx, lds, cfg.Nodename)
		return nil
	}

	client, err := grpc.NewGrpcClient(cfg.ServerAdress, cfg.Serverport, lds)
	if err != nil {
		return err
	}
	defer client.Close()
	log.Info("gRPC Client created successfully")

	if err := client.Run(ctx, cfg.Nodename); err != nil {
		log.Error("Error running client", zap.Error(err))
		return err
	}
	log.Info("Client finished running")
	return nil
}

func metricsMux(g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return mux
}

// drain consumes loader batches when there is nowhere to send them.
func drain(ctx context.Context, lds []types.Gpu_loaders, node string) {
	for _, l := range lds {
		go func(ch <-chan *pb.EventBatch) {
			for {
				select {
				case <-ctx.Done():
					return
				case batch, ok := <-ch:
					if !ok {
						return
					}
					if batch != nil {
						logger().Debug("timeline batch", zap.String("node", node), zap.Int("size", len(batch.Batch)))
					}
				}
			}
		}(l.Run(ctx, node))
	}
	<-ctx.Done()
}
