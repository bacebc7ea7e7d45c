package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/keypoint.report/internal/db"
	"github.com/banshee-data/keypoint.report/internal/keypoint/storage/sqlite"
)

func runRuns(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	dbPath := fs.String("db", defaultDBPath, "path to the sqlite result store")
	limit := fs.Int("limit", 20, "list at most this many runs; 0 lists all")
	listen := fs.String("listen", "127.0.0.1:8090", "address for the admin server (serve)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("expected one of list, show <run-id>, delete <run-id>, serve")
	}

	store, err := db.OpenMigrated(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	runs := sqlite.NewEvaluationStore(store.DB)

	action := fs.Arg(0)
	switch action {
	case "list":
		return listRuns(out, runs, *limit)
	case "show", "delete":
		if fs.NArg() != 2 {
			return fmt.Errorf("%s needs exactly one run ID", action)
		}
		if action == "show" {
			return showRun(out, runs, fs.Arg(1))
		}
		if err := runs.DeleteRun(fs.Arg(1)); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted run %s\n", fs.Arg(1))
		return nil
	case "serve":
		return serveAdmin(store, *dbPath, *listen)
	default:
		return fmt.Errorf("unknown runs action %q", action)
	}
}

func formatCreated(ns int64) string {
	return time.Unix(0, ns).UTC().Format(time.RFC3339)
}

func listRuns(out io.Writer, runs *sqlite.EvaluationStore, limit int) error {
	list, err := runs.ListRuns(limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No runs stored")
		return nil
	}
	fmt.Fprintf(out, "%-36s  %-8s  %-12s  %6s  %7s  %s\n", "RUN", "SPLIT", "CATEGORY", "SHAPES", "MIOU", "CREATED")
	for _, r := range list {
		fmt.Fprintf(out, "%-36s  %-8s  %-12s  %6d  %7.4f  %s\n",
			r.RunID, r.Split, r.Category, r.Shapes, r.MeanScore, formatCreated(r.CreatedAt))
	}
	return nil
}

func showRun(out io.Writer, runs *sqlite.EvaluationStore, id string) error {
	r, err := runs.GetRun(id)
	if err != nil {
		return err
	}
	categories, err := runs.CategoryScores(id)
	if err != nil {
		return err
	}
	shapes, err := runs.ShapeResults(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run %s (%s)\n", r.RunID, formatCreated(r.CreatedAt))
	fmt.Fprintf(out, "  split %s, category %s, cache %s\n", r.Split, r.Category, r.CacheDigest)
	fmt.Fprintf(out, "  threshold %.3g, score threshold %.3g, neighbors %d, %s matching\n",
		r.DistanceThreshold, r.ScoreThreshold, r.Neighbors, r.MatchMode)
	if r.Notes != "" {
		fmt.Fprintf(out, "  notes: %s\n", r.Notes)
	}
	for _, c := range categories {
		fmt.Fprintf(out, "Class_%-12s Result: iou %.4f (shapes=%d kp=%d fp=%d fn=%d)\n",
			c.Category, c.Score, c.Shapes, c.NumKeypoints, c.FP, c.FN)
	}
	fmt.Fprintf(out, "Val result: mIoU %.4f over %d shapes\n", r.MeanScore, r.Shapes)
	for _, s := range shapes {
		fmt.Fprintf(out, "  %-40s %-12s score %.4f fp=%d fn=%d kp=%d (%s)\n",
			s.ShapeID, s.Category, s.Score, s.FP, s.FN, s.NumKeypoints, s.Duration)
	}
	return nil
}

// adminMux serves the debug routes for the result store.
func adminMux(store *db.DB, dbPath string) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	if err := store.AttachAdminRoutes(mux, dbPath); err != nil {
		return nil, err
	}
	return mux, nil
}

func serveAdmin(store *db.DB, dbPath, listen string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux, err := adminMux(store, dbPath)
	if err != nil {
		return err
	}
	server := &http.Server{Addr: listen, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	log.Printf("serving run store admin on http://%s/debug/", listen)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("admin server shutdown error: %v", err)
		server.Close()
	}
	log.Printf("admin server stopped")
	return nil
}
