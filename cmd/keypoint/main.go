// Command keypoint prepares KeypointNet record tables, scores keypoint
// predictions with the geodesic matcher and manages the result store.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/keypoint.report/internal/config"
	"github.com/banshee-data/keypoint.report/internal/fsutil"
	"github.com/banshee-data/keypoint.report/internal/keypoint/dataset"
	"github.com/banshee-data/keypoint.report/internal/monitoring"
	"github.com/banshee-data/keypoint.report/internal/version"
)

func main() {
	flag.Usage = func() { printUsage(os.Stderr) }
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "prepare":
		err = runPrepare(args, os.Stdout)
	case "evaluate":
		err = runEvaluate(args, os.Stdout)
	case "serve":
		err = runServe(args, os.Stdout)
	case "runs":
		err = runRuns(args, os.Stdout)
	case "migrate":
		err = runMigrate(args, os.Stdout)
	case "version":
		fmt.Printf("keypoint version %s\n", version.String())
	case "help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `keypoint - KeypointNet record preparation and geodesic keypoint evaluation

Usage: keypoint <command> [options]

Commands:
  prepare    Build or load the record table for a split
  evaluate   Score a predictions file or predictor service against a split
  serve      Serve a predictions file over gRPC as a predictor service
  runs       Inspect stored runs (list, show, delete, serve)
  migrate    Manage the result store schema (up, down, version)
  version    Show keypoint version
  help       Show this help message

Run 'keypoint <command> -h' for command flags. Flags go before the
action, e.g. 'keypoint runs -db keypoint.db show <run-id>'.`)
}

// commonFlags are shared by prepare and evaluate.
type commonFlags struct {
	configPath string
	split      string
	category   string
	verbose    bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", config.DefaultConfigPath, "path to the JSON configuration")
	fs.StringVar(&c.split, "split", "", "override the configured split")
	fs.StringVar(&c.category, "category", "", "override the configured category (or \"all\")")
	fs.BoolVar(&c.verbose, "verbose", false, "log per-shape progress")
}

// load reads the configuration and applies the flag overrides.
func (c *commonFlags) load() (*config.EvalConfig, *dataset.Categories, error) {
	monitoring.SetDebug(c.verbose)

	cfg, err := config.LoadEvalConfig(c.configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg = cfg.WithOverrides(c.split, c.category)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	categories, err := dataset.NewCategories(cfg.ClassID2Names)
	if err != nil {
		return nil, nil, err
	}
	return cfg, categories, nil
}

func datasetOptions(cfg *config.EvalConfig) dataset.Options {
	return dataset.Options{
		Root:     cfg.GetDataRoot(),
		Split:    cfg.GetSplit(),
		Category: cfg.GetCategory(),
		Sampling: dataset.SamplingOptions{
			NumPoints: cfg.GetNumPoints(),
			Uniform:   cfg.GetUniformSampling(),
		},
		Loop:       cfg.GetLoop(),
		SaveRecord: cfg.GetSaveRecord(),
	}
}

func openDataset(cfg *config.EvalConfig, categories *dataset.Categories) (*dataset.Dataset, error) {
	return dataset.Open(fsutil.OSFileSystem{}, categories, datasetOptions(cfg))
}
