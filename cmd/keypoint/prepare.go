package main

import (
	"flag"
	"fmt"
	"io"
)

func runPrepare(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("prepare", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, categories, err := common.load()
	if err != nil {
		return err
	}
	ds, err := openDataset(cfg, categories)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%d records (%d samples) in %s\n", ds.Cache.Len(), ds.Len(), ds.Cache.Path())
	return nil
}
