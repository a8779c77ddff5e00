package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	shmringbuf "github.com/GreptimeTeam/shm-ringbuf"
	"github.com/GreptimeTeam/shm-ringbuf/internal/logging"
	"github.com/GreptimeTeam/shm-ringbuf/internal/xcmd"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "shmringbuf-producer",
	Short: "Runs a shared-memory ring buffer producer session",
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(cmd)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	cfg, err := shmringbuf.LoadConfig(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, atomicLevel, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	producer, err := shmringbuf.NewProducer(cfg, shmringbuf.WithLogger(log), shmringbuf.WithAtomicLogLevel(&atomicLevel))
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	defer producer.Close()

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return producer.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		return err
	})

	if err := wg.Wait(); err != nil {
		var interrupted xcmd.Interrupted
		if errors.As(err, &interrupted) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return nil
}
