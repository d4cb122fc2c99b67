package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"txbench/api/benchdriverapi"
	"txbench/internal/worker"
	"txbench/internal/worker/as2"
	"txbench/pkg/timeutil"
)

// LocalConfig describes an in process benchmark run.
type LocalConfig struct {
	Driver   worker.Driver `json:"driver"`
	Host     string        `json:"host"`
	Port     string        `json:"port"`
	User     string        `json:"user"`
	Pass     string        `json:"pass"`
	Database string        `json:"database"`
	SSLMode  string        `json:"sslmode"`

	Config benchdriverapi.BenchmarkAS2Config `json:"config"`
}

func (c *LocalConfig) workerConfig() worker.Config {
	return worker.Config{
		Driver:   c.Driver,
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Pass:     c.Pass,
		Database: c.Database,
		SSLMode:  c.SSLMode,
	}
}

func runCmd() *cobra.Command {
	var prepare, cleanup bool

	cmd := &cobra.Command{
		Use:   "run [benchmark]",
		Short: "Run a benchmark in process against the configured system",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readLocalConfig(args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := runLocal(ctx, cfg, prepare, cleanup)
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}
	cmd.Flags().BoolVar(&prepare, "prepare", false, "Load the benchmark data before running")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Drop the benchmark data after running")
	return cmd
}

func runLocal(ctx context.Context, cfg LocalConfig, prepare, cleanup bool) (summary benchdriverapi.AS2RunStats, err error) {
	benchCfg, err := as2.ConfigFromAPI(&cfg.Config)
	if err != nil {
		return summary, fmt.Errorf("invalid benchmark config: %w", err)
	}

	tester, err := as2.New(cfg.workerConfig())
	if err != nil {
		return summary, err
	}
	defer tester.Close()

	if prepare {
		if benchdriverapi.GetOptValue(cfg.Config.DropData, false) {
			if err := tester.Cleanup(ctx); err != nil {
				return summary, fmt.Errorf("drop data: %w", err)
			}
		}
		if err := tester.Prepare(ctx, benchCfg); err != nil {
			return summary, err
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(egCtx)
	eg.Go(func() error {
		for range timeutil.IterTick(runCtx, benchCfg.LiveStatsPeriod) {
			for _, op := range tester.LiveStats() {
				log.WithFields(log.Fields{
					"committed": op.Count,
					"aborted":   op.Aborted,
					"avg_ms":    fmt.Sprintf("%.2f", op.Avg),
					"p99_ms":    fmt.Sprintf("%.2f", op.P99),
				}).Info(op.Operation)
			}
		}
		return nil
	})
	eg.Go(func() error {
		defer cancel()
		var err error
		summary, err = tester.Run(runCtx, benchCfg)
		return err
	})
	if err := eg.Wait(); err != nil {
		return summary, err
	}

	if cleanup {
		if err := tester.Cleanup(context.Background()); err != nil {
			return summary, fmt.Errorf("cleanup: %w", err)
		}
	}
	return summary, nil
}

func readLocalConfig(args []string) (cfg LocalConfig, err error) {
	name := "default"
	if len(args) > 0 {
		name = args[0]
	}

	cfg, err = readConfigFile[LocalConfig]("local." + name)
	if err != nil {
		return cfg, fmt.Errorf("read local config: %w", err)
	}
	return cfg, nil
}

func printJSON(v any) error {
	tmp, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", tmp)
	return nil
}
