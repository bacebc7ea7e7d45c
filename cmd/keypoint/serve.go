package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os/signal"
	"syscall"

	"github.com/banshee-data/keypoint.report/internal/fsutil"
	"github.com/banshee-data/keypoint.report/internal/keypoint/evaluate"
)

func runServe(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	predictions := fs.String("predictions", "", "JSON file mapping shape identifiers to per-point scores")
	listen := fs.String("listen", "127.0.0.1:50061", "gRPC listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *predictions == "" {
		return fmt.Errorf("-predictions is required")
	}

	scores, err := evaluate.LoadScoreFile(fsutil.OSFileSystem{}, *predictions)
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	fmt.Fprintf(out, "Serving %d predictions on %s\n", scores.Len(), lis.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return servePredictor(ctx, lis, scores)
}

// servePredictor serves p on lis until ctx is done, then drains in-flight
// calls.
func servePredictor(ctx context.Context, lis net.Listener, p evaluate.Predictor) error {
	server := evaluate.NewPredictorServer(p)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	server.GracefulStop()
	<-errCh
	log.Printf("predictor server stopped")
	return nil
}
