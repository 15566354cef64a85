// Command notify runs a single dispatch cycle and exits. It is meant for a
// scheduler that cannot call POST /internal/dispatch.
//
//	notify            run one cycle using the environment configuration
//	notify -genkeys   print a fresh VAPID key pair as YAML and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/pkordes/stopalert/internal/app"
	"github.com/pkordes/stopalert/internal/config"
	"github.com/pkordes/stopalert/internal/webpush"
)

func main() {
	genKeys := flag.Bool("genkeys", false, "print a new VAPID key pair and exit")
	flag.Parse()

	var err error
	if *genKeys {
		err = printKeys()
	} else {
		err = run()
	}
	if err != nil {
		for _, e := range multierr.Errors(err) {
			slog.Error("notify failed", "error", e)
		}
		os.Exit(1)
	}
}

// run executes one dispatch cycle. Deferred cleanup always runs before main
// decides the exit status.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	slog.SetDefault(app.NewLogger(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	defer a.Close()

	// RunCycle logs its own summary.
	if _, err := a.Dispatch.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func printKeys() error {
	keys, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("generate keys: %w", err)
	}
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(keys)
}
