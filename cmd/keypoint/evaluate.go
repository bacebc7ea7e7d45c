package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/keypoint.report/internal/config"
	"github.com/banshee-data/keypoint.report/internal/db"
	"github.com/banshee-data/keypoint.report/internal/fsutil"
	"github.com/banshee-data/keypoint.report/internal/keypoint/dataset"
	"github.com/banshee-data/keypoint.report/internal/keypoint/evaluate"
	"github.com/banshee-data/keypoint.report/internal/keypoint/geodesic"
	"github.com/banshee-data/keypoint.report/internal/keypoint/report"
	"github.com/banshee-data/keypoint.report/internal/keypoint/storage/sqlite"
	"github.com/banshee-data/keypoint.report/internal/keypoint/transform"
	"github.com/banshee-data/keypoint.report/internal/topology"
)

type evaluateFlags struct {
	commonFlags
	predictions   string
	predictorAddr string
	dbPath        string
	plotPath      string
	htmlPath      string
	metricsListen string
	notes         string
}

func runEvaluate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	var f evaluateFlags
	f.register(fs)
	fs.StringVar(&f.predictions, "predictions", "", "JSON file mapping shape identifiers to per-point scores")
	fs.StringVar(&f.predictorAddr, "predictor-addr", "", "gRPC address of a running predictor service")
	fs.StringVar(&f.dbPath, "db", "", "sqlite result store; empty skips persistence")
	fs.StringVar(&f.plotPath, "plot", "", "write a PNG bar chart of per-category scores")
	fs.StringVar(&f.htmlPath, "html", "", "write an HTML bar chart of per-category scores")
	fs.StringVar(&f.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address while evaluating")
	fs.StringVar(&f.notes, "notes", "", "free-form notes stored with the run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (f.predictions == "") == (f.predictorAddr == "") {
		return fmt.Errorf("exactly one of -predictions or -predictor-addr is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, categories, err := f.load()
	if err != nil {
		return err
	}
	top, err := topology.FromEnv(nil)
	if err != nil {
		return err
	}

	ds, err := openDataset(cfg, categories)
	if err != nil {
		return err
	}
	predictor, closePredictor, err := openPredictor(f.predictions, f.predictorAddr)
	if err != nil {
		return err
	}
	defer closePredictor()
	pipeline, err := transformPipeline(cfg)
	if err != nil {
		return err
	}
	ids := topology.Shard(top, ds.IDs)
	log.Printf("%s: evaluating %d of %d shapes", top, len(ids), len(ds.IDs))

	reg := prometheus.NewRegistry()
	m := evaluate.NewMetrics(reg)
	if f.metricsListen != "" {
		stopMetrics := serveMetrics(ctx, f.metricsListen, reg)
		defer stopMetrics()
	}

	runner := evaluate.NewRunner(ds.Cache, predictor, categories, evaluate.Options{
		Matcher:   matcherOptions(cfg),
		Workers:   cfg.GetWorkers(),
		Transform: pipeline,
	}, m)
	rep, err := runner.Run(ctx, ids)
	if err != nil {
		return err
	}

	entries := report.Entries(rep.Scores, rep.Categories)
	if err := report.WriteText(out, entries); err != nil {
		return err
	}

	title := fmt.Sprintf("KeypointNet %s / %s", cfg.GetSplit(), cfg.GetCategory())
	if f.plotPath != "" {
		if err := writeFile(f.plotPath, func(w io.Writer) error {
			return report.RenderPNG(w, title, entries)
		}); err != nil {
			return err
		}
	}
	if f.htmlPath != "" {
		subtitle := fmt.Sprintf("threshold %.3g, %s matching", cfg.GetDistanceThreshold(), cfg.GetMatchMode())
		if err := writeFile(f.htmlPath, func(w io.Writer) error {
			return report.RenderHTML(w, title, subtitle, entries)
		}); err != nil {
			return err
		}
	}

	if f.dbPath != "" {
		run, err := newRun(cfg, ds.Cache.Key(), top, f.notes)
		if err != nil {
			return err
		}
		if err := persistRun(f.dbPath, rep, run); err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved run %s\n", run.RunID)
	}
	return nil
}

func matcherOptions(cfg *config.EvalConfig) geodesic.Options {
	return geodesic.Options{
		DistanceThreshold: cfg.GetDistanceThreshold(),
		ScoreThreshold:    cfg.GetScoreThreshold(),
		Neighbors:         cfg.GetNeighbors(),
		MaxPoints:         cfg.GetMaxPoints(),
		Mode:              geodesic.MatchMode(cfg.GetMatchMode()),
	}
}

// openPredictor returns the score file or the remote predictor, whichever
// was configured, and a func releasing it.
func openPredictor(predictions, addr string) (evaluate.Predictor, func(), error) {
	if addr != "" {
		p, err := evaluate.DialPredictor(addr)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("using predictor service at %s", addr)
		return p, func() { p.Close() }, nil
	}
	scores, err := evaluate.LoadScoreFile(fsutil.OSFileSystem{}, predictions)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("loaded %d predictions from %s", scores.Len(), predictions)
	return scores, func() {}, nil
}

func transformPipeline(cfg *config.EvalConfig) (transform.Func, error) {
	steps := make([]transform.Step, 0, len(cfg.Transform))
	for _, s := range cfg.Transform {
		steps = append(steps, transform.Step{
			Type:   s.Type,
			ApplyZ: s.GetApplyZ(),
			Factor: float32(s.GetFactor()),
		})
	}
	return transform.Build(steps)
}

func newRun(cfg *config.EvalConfig, key dataset.CacheKey, top topology.Topology, notes string) (*sqlite.Run, error) {
	params, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	if top.Distributed() {
		if notes != "" {
			notes += "; "
		}
		notes += top.String()
	}
	return &sqlite.Run{
		Split:             cfg.GetSplit(),
		Category:          cfg.GetCategory(),
		NumPoints:         cfg.GetNumPoints(),
		UniformSampling:   cfg.GetUniformSampling(),
		DistanceThreshold: cfg.GetDistanceThreshold(),
		ScoreThreshold:    cfg.GetScoreThreshold(),
		Neighbors:         cfg.GetNeighbors(),
		MatchMode:         cfg.GetMatchMode(),
		CacheDigest:       key.Digest(),
		Notes:             notes,
		ParamsJSON:        params,
	}, nil
}

func persistRun(path string, rep *evaluate.Report, run *sqlite.Run) error {
	store, err := db.OpenMigrated(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return rep.Save(sqlite.NewEvaluationStore(store.DB), run)
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	return f.Close()
}

// serveMetrics exposes reg on addr/metrics until the returned func is called.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server: %v", err)
		}
	}()
	log.Printf("serving metrics on http://%s/metrics", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics server shutdown error: %v", err)
			server.Close()
		}
	}
}
