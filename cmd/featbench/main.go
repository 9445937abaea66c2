// Command featbench trains synthetic workers against per-worker feature
// caches and reports the miss rate per epoch. It exposes Prometheus metrics
// and optionally writes a JSON report.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/natefinch/atomic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/featcache/cache"
	"github.com/IvanBrykalov/featcache/config"
	"github.com/IvanBrykalov/featcache/feature"
	"github.com/IvanBrykalov/featcache/internal/sampler"
	"github.com/IvanBrykalov/featcache/internal/trainer"
	pmet "github.com/IvanBrykalov/featcache/metrics/prom"
	"github.com/IvanBrykalov/featcache/store/memstore"
	"github.com/IvanBrykalov/featcache/store/sqlitestore"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "featbench:", err)
		os.Exit(1)
	}
}

// options are the command-line settings that are not part of config.Config.
type options struct {
	configPath string

	workers   int
	epochs    int
	batchSize int
	fanout    int
	hops      int
	degree    int
	zipfS     float64
	dim       int
	seed      int64
	prefetch  int
	perEpoch  bool

	store      string
	sqlitePath string
	latency    time.Duration

	metricsAddr string
	reportPath  string
	logLevel    string
}

// report is the JSON document written by --report.
type report struct {
	Config  config.Config  `json:"config"`
	Workers []workerReport `json:"workers"`
	Elapsed string         `json:"elapsed"`
}

type workerReport struct {
	Rank   int                  `json:"rank"`
	Epochs []trainer.EpochStats `json:"epochs"`
	Stats  cache.Stats          `json:"stats"`
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	cfg := config.Default()
	cfg.VNum = 100_000
	var opt options

	fs := flag.NewFlagSet("featbench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opt.configPath, "config", "c", "", "JSONC config file; explicit flags override it")

	fs.IntVar(&cfg.VNum, "vnum", cfg.VNum, "number of graph nodes")
	fs.StringSliceVar(&cfg.Fields, "fields", cfg.Fields, "feature fields to cache")
	fs.BoolVar(&cfg.Counting, "counting", cfg.Counting, "count hits and misses")
	fs.IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "max cached nodes per worker (0 = no entry bound)")
	fs.Int64Var(&cfg.MaxBytes, "max-bytes", cfg.MaxBytes, "max cached bytes per worker (0 = no byte bound)")
	fs.IntVar(&cfg.Shards, "shards", cfg.Shards, "table shards (0 = auto)")
	fs.StringVar(&cfg.Policy, "policy", cfg.Policy, "selection policy: ascending | frequency")
	fs.IntVar(&cfg.ObserveBatches, "observe-batches", cfg.ObserveBatches, "batches observed before populate")
	fetchTimeout := fs.Duration("fetch-timeout", 0, "per store call timeout (0 = none)")
	fs.IntVar(&cfg.FetchRetries, "fetch-retries", cfg.FetchRetries, "retries after a store timeout")

	fs.IntVar(&opt.workers, "workers", 2, "number of workers (world size)")
	fs.IntVar(&opt.epochs, "epochs", 3, "epochs per worker")
	fs.IntVar(&opt.batchSize, "batch-size", 256, "seed nodes per batch")
	fs.IntVar(&opt.fanout, "fanout", 10, "neighbours sampled per node and hop")
	fs.IntVar(&opt.hops, "hops", 2, "sampling hops")
	fs.IntVar(&opt.degree, "degree", 15, "out-degree of the synthetic graph")
	fs.Float64Var(&opt.zipfS, "zipf-s", 1.1, "Zipf skew (> 1) of neighbour ids")
	fs.IntVar(&opt.dim, "dim", 64, "row width of every field")
	fs.Int64Var(&opt.seed, "seed", 1, "random seed")
	fs.IntVar(&opt.prefetch, "prefetch", 0, "batches fetched ahead (0 = synchronous)")
	fs.BoolVar(&opt.perEpoch, "per-epoch", true, "reset counters every epoch")

	fs.StringVar(&opt.store, "store", "memory", "feature store: memory | sqlite")
	fs.StringVar(&opt.sqlitePath, "sqlite-path", "", "sqlite database file (default: temporary)")
	fs.DurationVar(&opt.latency, "latency", 0, "simulated latency per memory store call")

	fs.StringVar(&opt.metricsAddr, "http", "", "serve Prometheus metrics at addr (e.g. :8080); empty = disabled")
	fs.StringVar(&opt.reportPath, "report", "", "write a JSON report to this file")
	fs.StringVar(&opt.logLevel, "log.level", "info", "log level: debug | info | warn | error")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if opt.configPath != "" {
		fileCfg, err := config.Load(opt.configPath)
		if err != nil {
			return err
		}
		cfg = overlay(fileCfg, cfg, fs)
	}
	if fs.Changed("fetch-timeout") {
		cfg.FetchTimeout = config.Duration(*fetchTimeout)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if opt.workers <= 0 || opt.epochs < 0 || opt.batchSize <= 0 {
		return fmt.Errorf("workers and batch-size must be > 0, epochs >= 0")
	}

	logger, err := newLogger(stderr, opt.logLevel)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	if opt.metricsAddr != "" {
		srv := &http.Server{Addr: opt.metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			level.Info(logger).Log("msg", "serving metrics", "addr", opt.metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				level.Error(logger).Log("msg", "metrics server", "err", err)
			}
		}()
		defer srv.Close()
	}

	store, closeStore, err := openStore(ctx, cfg, opt, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	graph, err := sampler.RandomGraph(cfg.VNum, opt.degree, opt.zipfS, opt.seed)
	if err != nil {
		return err
	}
	all := make([]feature.NodeID, cfg.VNum)
	for i := range all {
		all[i] = feature.NodeID(i)
	}

	start := time.Now()
	workers := make([]workerReport, opt.workers)
	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < opt.workers; rank++ {
		g.Go(func() error {
			wr, err := runWorker(gctx, rank, cfg, opt, store, graph, all, reg, logger)
			workers[rank] = wr
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	for _, w := range workers {
		kv := []any{"msg", "worker done", "rank", w.Rank,
			"entries", w.Stats.Entries, "bytes", w.Stats.Bytes, "remote_rows", w.Stats.RemoteRows}
		if n := len(w.Epochs); n > 0 {
			kv = append(kv, "last_epoch_miss_rate", strconv.FormatFloat(w.Epochs[n-1].MissRate, 'f', 4, 64))
		}
		level.Info(logger).Log(kv...)
	}

	if opt.reportPath != "" {
		data, err := json.MarshalIndent(report{Config: cfg, Workers: workers, Elapsed: elapsed.String()}, "", "  ")
		if err != nil {
			return err
		}
		if err := atomic.WriteFile(opt.reportPath, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		level.Info(logger).Log("msg", "report written", "path", opt.reportPath)
	}
	return nil
}

func runWorker(
	ctx context.Context,
	rank int,
	cfg config.Config,
	opt options,
	store feature.Store,
	graph *sampler.Graph,
	all []feature.NodeID,
	reg prometheus.Registerer,
	logger log.Logger,
) (workerReport, error) {
	wr := workerReport{Rank: rank}
	boot := trainer.Bootstrap{Rank: rank, WorldSize: opt.workers}

	metrics := pmet.New(reg, "featcache", "", prometheus.Labels{"rank": strconv.Itoa(rank)})
	copt, err := cfg.Options(store, metrics, log.With(logger, "rank", rank))
	if err != nil {
		return wr, err
	}
	srv, err := cache.New(copt)
	if err != nil {
		return wr, err
	}
	defer srv.Close()

	s := &sampler.NeighborSampler{
		Graph:     graph,
		Seeds:     boot.Partition(all),
		BatchSize: opt.batchSize,
		Fanout:    opt.fanout,
		Hops:      opt.hops,
		Shuffle:   true,
		Seed:      opt.seed + int64(rank),
	}
	tr, err := trainer.New(srv, s, trainer.Config{
		Bootstrap:     boot,
		Epochs:        opt.epochs,
		ResetCounters: opt.perEpoch,
		Prefetch:      opt.prefetch,
		Logger:        logger,
	})
	if err != nil {
		return wr, err
	}
	wr.Epochs, err = tr.Run(ctx)
	wr.Stats = srv.Stats()
	return wr, err
}

// overlay applies the flags set on the command line over the file config.
func overlay(file, flags config.Config, fs *flag.FlagSet) config.Config {
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("vnum", func() { file.VNum = flags.VNum })
	set("fields", func() { file.Fields = flags.Fields })
	set("counting", func() { file.Counting = flags.Counting })
	set("capacity", func() { file.Capacity = flags.Capacity })
	set("max-bytes", func() { file.MaxBytes = flags.MaxBytes })
	set("shards", func() { file.Shards = flags.Shards })
	set("policy", func() { file.Policy = flags.Policy })
	set("observe-batches", func() { file.ObserveBatches = flags.ObserveBatches })
	set("fetch-retries", func() { file.FetchRetries = flags.FetchRetries })
	return file
}

func openStore(ctx context.Context, cfg config.Config, opt options, logger log.Logger) (feature.Store, func(), error) {
	dims := make(map[string]int, len(cfg.Fields))
	for _, f := range cfg.Fields {
		dims[f] = opt.dim
	}

	switch opt.store {
	case "memory":
		return memstore.Synthetic(cfg.VNum, dims, opt.seed, memstore.Options{Latency: opt.latency}), func() {}, nil

	case "sqlite":
		path, cleanup := opt.sqlitePath, func() {}
		if path == "" {
			dir, err := os.MkdirTemp("", "featbench-*")
			if err != nil {
				return nil, nil, err
			}
			path = filepath.Join(dir, "features.db")
			cleanup = func() { _ = os.RemoveAll(dir) }
		}
		db, err := sqlitestore.Open(ctx, path)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closeFn := func() {
			_ = db.Close()
			cleanup()
		}
		if len(db.Fields()) == 0 {
			start := time.Now()
			src := memstore.Synthetic(cfg.VNum, dims, opt.seed, memstore.Options{})
			if err := db.Import(ctx, src, cfg.VNum, cfg.Fields, 0); err != nil {
				closeFn()
				return nil, nil, err
			}
			level.Info(logger).Log("msg", "sqlite store filled", "path", path, "vnum", cfg.VNum, "took", time.Since(start))
		}
		return db, closeFn, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q (use memory or sqlite)", opt.store)
	}
}

func newLogger(w io.Writer, lvl string) (log.Logger, error) {
	var filter level.Option
	switch lvl {
	case "debug":
		filter = level.AllowDebug()
	case "info":
		filter = level.AllowInfo()
	case "warn":
		filter = level.AllowWarn()
	case "error":
		filter = level.AllowError()
	default:
		return nil, fmt.Errorf("unknown log level %q", lvl)
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, filter)
	return log.With(logger, "ts", log.DefaultTimestampUTC), nil
}
