package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/23skdu/longbow-neox/internal/config"
	"github.com/23skdu/longbow-neox/internal/engine"
	"github.com/23skdu/longbow-neox/internal/logger"
)

var (
	family    = flag.String("family", "dolly-v2-3b", "Model family preset (dolly-v2-3b, dolly-v2-7b, dolly-v2-12b)")
	inDir     = flag.String("in", "", "Directory holding the float32 checkpoint")
	outDir    = flag.String("out", "", "Output directory for packed parameters")
	groupSize = flag.Int("group-size", 0, "Override quantization group size (multiple of 8)")
	logLevel  = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Setup(*logLevel, "console"); err != nil {
		return err
	}
	if *inDir == "" || *outDir == "" {
		flag.Usage()
		return fmt.Errorf("-in and -out are required")
	}
	cfg, err := config.Preset(*family)
	if err != nil {
		return err
	}
	if *groupSize != 0 {
		cfg.GroupSize = *groupSize
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Info("quantizing checkpoint",
		"family", cfg.Name, "in", *inDir, "out", *outDir, "group_size", cfg.GroupSize)
	start := time.Now()
	if err := engine.QuantizeCheckpoint(*inDir, *outDir, cfg); err != nil {
		return err
	}
	logger.Info("checkpoint packed", "elapsed", time.Since(start))
	return nil
}
