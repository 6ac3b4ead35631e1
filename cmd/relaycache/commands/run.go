package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/poprelay/relaycache/internal/discovery"
	"github.com/poprelay/relaycache/internal/metrics"
	"github.com/poprelay/relaycache/internal/relay"
	"github.com/poprelay/relaycache/internal/ui"
)

// discoveryTick is how often the discovery state machine is advanced
const discoveryTick = 100 * time.Millisecond

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the cache writer and relay discovery until interrupted",
	Long: `Run the cache writer and, unless --no-discovery is set, broadcast for relay
servers on the local network.

With --stdin every input line is published as a decoded packet, which makes
relaycache usable at the end of a pipe:

  relay-decoder | relaycache run --stdin`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Bool("stdin", false, "Publish each stdin line as a decoded packet")
	runCmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9102)")
	runCmd.Flags().Bool("no-discovery", false, "Do not look for relay servers")
}

func runRun(cmd *cobra.Command, args []string) error {
	fromStdin, _ := cmd.Flags().GetBool("stdin")
	noDiscovery, _ := cmd.Flags().GetBool("no-discovery")
	metricsAddr := cfg.MetricsAddr
	if cmd.Flags().Changed("metrics-addr") {
		metricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := relay.NewBus()
	writer, closeWriter, err := newWriter(bus)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	writer.SetMetrics(metrics.NewCache(reg, writer.Size))

	fields := []ui.Field{
		{Label: "cache", Value: cacheLocation(cfg)},
		{Label: "writes/tick", Value: fmt.Sprintf("%d every %s", cfg.Cache.WritesPerTick, cfg.Cache.TickInterval)},
	}

	var svc *discovery.Service
	if !noDiscovery {
		svc = discovery.NewService(cfg.DiscoveryConfig(), relay.ConnectorFunc(selectServer), logger)
		svc.SetMetrics(metrics.NewDiscovery(reg))
		svc.AddListener(func(host string) error {
			fmt.Println(ui.RenderHost(host))
			return nil
		})
		if err := svc.Start(); err != nil {
			closeWriter()
			return err
		}
		fields = append(fields, ui.Field{Label: "discovery", Value: cfg.BroadcastAddr()})
	}
	if metricsAddr != "" {
		fields = append(fields, ui.Field{Label: "metrics", Value: metricsAddr + "/metrics"})
	}
	fmt.Print(ui.RenderPanel("relaycache "+Version, fields))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return writer.Run(ctx)
	})

	if svc != nil {
		g.Go(func() error {
			defer svc.Stop()
			return svc.Run(ctx, discoveryTick)
		})
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if fromStdin {
		// not part of the group: a blocked read must not hold up shutdown
		go func() {
			n, err := publishLines(os.Stdin, bus, false)
			if err != nil {
				logger.Error("stdin ingest failed", zap.Error(err))
			}
			logger.Info("stdin closed", zap.Int("packets", n))
		}()
	}

	err = g.Wait()
	if cerr := closeWriter(); err == nil {
		err = cerr
	}
	logger.Info("relaycache stopped", zap.Int("pending", writer.Size()))
	fmt.Println(ui.RenderDim("queues at exit: ") + ui.RenderSizes(writer.Sizes()))
	return err
}

// selectServer stands in for the relay client, which is not part of relaycache
func selectServer(host string) error {
	logger.Info("relay server selected", zap.String("host", host))
	return nil
}
