package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/23skdu/longbow-neox/internal/arrow_client"
	"github.com/23skdu/longbow-neox/internal/config"
	"github.com/23skdu/longbow-neox/internal/engine"
	"github.com/23skdu/longbow-neox/internal/logger"
	"github.com/23skdu/longbow-neox/internal/monitoring"
	"github.com/23skdu/longbow-neox/internal/tokenizer"
)

var (
	family      = flag.String("family", "dolly-v2-3b", "Model family preset (dolly-v2-3b, dolly-v2-7b, dolly-v2-12b)")
	weightsDir  = flag.String("weights", "", "Path to quantized parameter directory")
	vocabPath   = flag.String("vocab", "", "Path to vocabulary JSON file")
	prompt      = flag.String("prompt", "Hello world", "Prompt to generate from")
	maxGenLen   = flag.Int("n", 128, "Maximum number of tokens to generate")
	temperature = flag.Float64("temperature", 0.7, "Sampling temperature, 0 for greedy")
	topP        = flag.Float64("top-p", 0.95, "Nucleus sampling cutoff")
	seed        = flag.Int64("seed", 0, "RNG seed, 0 for time-based")
	stopStr     = flag.String("stop", "", "Stop string, truncates output at its last occurrence")
	interval    = flag.Int("stream-interval", 2, "Steps between streamed output updates")
	monitorAddr = flag.String("monitor", ":9090", "Address for health and metrics endpoints")
	traceAddr   = flag.String("trace", "", "Arrow Flight endpoint for per-step traces (optional)")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat   = flag.String("log-format", "console", "Log format (console, json)")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Setup(*logLevel, *logFormat); err != nil {
		return err
	}
	if *weightsDir == "" || *vocabPath == "" {
		flag.Usage()
		return fmt.Errorf("-weights and -vocab are required")
	}

	cfg, err := config.Preset(*family)
	if err != nil {
		return err
	}

	hm := monitoring.NewHealthMonitor()
	hm.Start(*monitorAddr)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hm.Shutdown(ctx)
	}()

	logger.Info("loading tokenizer", "path", *vocabPath)
	tok, err := tokenizer.Load(*vocabPath)
	if err != nil {
		return err
	}
	if tok.VocabSize() > cfg.VocabSize {
		return fmt.Errorf("vocabulary has %d entries, model supports %d", tok.VocabSize(), cfg.VocabSize)
	}

	logger.Info("loading weights", "dir", *weightsDir, "family", cfg.Name)
	start := time.Now()
	model, err := engine.LoadModel(*weightsDir, cfg)
	if err != nil {
		return err
	}
	logger.Info("model ready", "elapsed", time.Since(start))
	hm.SetEngineInfo(monitoring.EngineInfo{
		Model:         cfg.Name,
		Layers:        cfg.Layers,
		Heads:         cfg.Heads,
		ContextLength: cfg.MaxSeqLen,
		ModelLoaded:   true,
	})

	eng := engine.New(model, tok)
	if *traceAddr != "" {
		pub, err := arrow_client.NewFlightPublisher(*traceAddr, fmt.Sprintf("run-%d", time.Now().Unix()), 32)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = pub.Close(ctx)
		}()
		eng.SetTracePublisher(pub)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := engine.GenerateOptions{
		MaxGenLen:      *maxGenLen,
		Temperature:    *temperature,
		TopP:           *topP,
		Seed:           *seed,
		StopStr:        *stopStr,
		StreamInterval: *interval,
	}

	// Stream deltas only, so the terminal shows text as it arrives.
	printed := len(*prompt)
	fmt.Print(*prompt)
	genStart := time.Now()
	out, err := eng.Generate(ctx, *prompt, opts, func(text string) {
		if len(text) > printed {
			fmt.Print(text[printed:])
			printed = len(text)
		}
	})
	fmt.Println()
	if err != nil {
		return err
	}

	elapsed := time.Since(genStart)
	genChars := len(out) - len(*prompt)
	logger.Info("generation complete",
		"chars", genChars, "elapsed", elapsed,
		"rate", fmt.Sprintf("%.2f chars/s", float64(genChars)/elapsed.Seconds()))
	return nil
}
