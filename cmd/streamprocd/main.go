// Command streamprocd hosts a fixed number of per-partition stream
// processing engines backed by NATS JetStream logs and a Pebble state
// store, routing externally-submitted commands to their partition by key.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/partitionkit/streamproc/adapters/nats"
	pebbleadapter "github.com/partitionkit/streamproc/adapters/pebble"
	promadapter "github.com/partitionkit/streamproc/adapters/prometheus"
	"github.com/partitionkit/streamproc/core/stream"
	"github.com/partitionkit/streamproc/internal/shard"
)

var (
	partitionCount = getEnvInt("PARTITIONS", 4)
	stateDir       = getEnv("STATE_DIR", "/tmp/streamprocd")
	metricsAddr    = getEnv("METRICS_ADDR", ":9090")
)

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return v
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := promadapter.NewStreamMetrics(reg)

	router, err := newPartitionRouter(ctx, logger, metrics, partitionCount)
	if err != nil {
		logger.Error("failed to start partition router", slog.Any("error", err))
		os.Exit(1)
	}
	defer router.Close()

	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.Any("error", err))
		}
	}()

	logger.Info("streamprocd started", slog.Int("partitions", partitionCount), slog.String("metrics_addr", metricsAddr))

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// partitionRouter owns one stream.Engine per partition and uses a
// consistent key→partition sharder to route submitted records, mirroring
// how a real deployment would shard a keyed command stream across
// partitions without any cross-partition coordination.
type partitionRouter struct {
	sharder shard.Sharder
	engines []*stream.Engine
	logs    []*nats.JetStreamLog
	stores  []*pebbleadapter.Store
}

func newPartitionRouter(
	ctx context.Context,
	logger *slog.Logger,
	metrics stream.StreamMetrics,
	partitions int,
) (*partitionRouter, error) {
	r := &partitionRouter{
		sharder: shard.Distributed(partitions),
		engines: make([]*stream.Engine, partitions),
		logs:    make([]*nats.JetStreamLog, partitions),
		stores:  make([]*pebbleadapter.Store, partitions),
	}

	for p := 0; p < partitions; p++ {
		partitionLog := logger.With(slog.Int("partition", p))

		log, err := nats.NewJetStreamLog(ctx, nats.LogConfig{
			Log:         partitionLog,
			PartitionID: int64(p),
		})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("partition %d: open log: %w", p, err)
		}
		r.logs[p] = log

		store, err := pebbleadapter.Open(pebbleadapter.Config{Dir: partitionDir(stateDir, p)})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("partition %d: open store: %w", p, err)
		}
		r.stores[p] = store

		engine := stream.NewEngine(stream.EngineConfig{
			PartitionID: p,
			Log:         log,
			Store:       store,
			Registry:    stream.NewHandlerRegistry(),
			Metrics:     metrics,
			Logger:      partitionLog,
		})
		if err := engine.Open(ctx); err != nil {
			r.Close()
			return nil, fmt.Errorf("partition %d: open engine: %w", p, err)
		}
		r.engines[p] = engine
	}

	return r, nil
}

// Submit appends a single command record to the partition owning key.
func (r *partitionRouter) Submit(ctx context.Context, key string, rec stream.Record) (stream.Position, error) {
	p := r.sharder.GetShardForKey(key)
	return r.logs[p].Writer().Append(ctx, []stream.Record{rec})
}

func (r *partitionRouter) Close() {
	for _, e := range r.engines {
		if e != nil {
			_ = e.Close(context.Background())
		}
	}
	for _, s := range r.stores {
		if s != nil {
			_ = s.Close()
		}
	}
	for _, l := range r.logs {
		if l != nil {
			_ = l.Close()
		}
	}
}

func partitionDir(base string, p int) string {
	return filepath.Join(base, "partition-"+strconv.Itoa(p))
}
