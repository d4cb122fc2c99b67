package commands

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	brun "txbench/pkg/client"
)

var requestTimeout = 30 * time.Second

func execCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Execute benchmark tasks on remote workers",
	}
	cmd.PersistentFlags().DurationVar(&requestTimeout, "request-timeout", requestTimeout, "Timeout of a single request to a worker")
	cmd.AddCommand(execCheck())
	cmd.AddCommand(execPrepare())
	cmd.AddCommand(execRun())
	cmd.AddCommand(execCleanup())
	cmd.AddCommand(execCancel())
	cmd.AddCommand(execResult())
	cmd.AddCommand(execMetrics())

	return cmd
}

func execCheck() *cobra.Command {
	return &cobra.Command{
		Use:   "check [benchmark]",
		Short: "Check workers being reachable and idle",
		Args:  cobra.MaximumNArgs(1),
		RunE: benchExecCommand(func(inst *brun.BenchmarkInstance, ctx context.Context) error {
			idle, err := inst.Healthcheck(ctx)
			if err != nil {
				return err
			}

			if idle {
				fmt.Printf("%d workers are healthy and ready\n", inst.NumEndpoints())
			} else {
				fmt.Printf("%d workers are healthy, but not ready\n", inst.NumEndpoints())
			}
			return nil
		}),
	}
}

func execPrepare() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "prepare [benchmark]",
		Short: "Load the benchmark data",
		Args:  cobra.MaximumNArgs(1),
		RunE: benchExecCommand(func(inst *brun.BenchmarkInstance, ctx context.Context) error {
			if err := inst.Prepare(ctx); err != nil {
				return err
			}
			fmt.Println("Started prepare task")

			if wait {
				fmt.Println("Waiting for prepare task to finish")
				return inst.WaitIdle(ctx)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the task to finish")
	return cmd
}

func execRun() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "run [benchmark]",
		Short: "Run benchmark",
		Args:  cobra.MaximumNArgs(1),
		RunE: benchExecCommand(func(inst *brun.BenchmarkInstance, ctx context.Context) error {
			if err := inst.Run(ctx); err != nil {
				return err
			}

			fmt.Println("Benchmark started")
			if wait {
				return execGetAndReportResults(inst, ctx, true, false)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the benchmark to finish")
	return cmd
}

func execCleanup() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "cleanup [benchmark]",
		Short: "Drop the benchmark data",
		Args:  cobra.MaximumNArgs(1),
		RunE: benchExecCommand(func(inst *brun.BenchmarkInstance, ctx context.Context) error {
			if err := inst.Cleanup(ctx); err != nil {
				return err
			}
			fmt.Println("Started cleanup task")

			if wait {
				fmt.Println("Waiting for cleanup task to finish")
				return inst.WaitIdle(ctx)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the task to finish")
	return cmd
}

func execCancel() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [benchmark]",
		Short: "Cancel the active task of all workers",
		Args:  cobra.MaximumNArgs(1),
		RunE:  benchExecCommand((*brun.BenchmarkInstance).Cancel),
	}
}

func execResult() *cobra.Command {
	var wait bool
	var allowErr bool

	cmd := &cobra.Command{
		Use:   "results [benchmark]",
		Short: "Get benchmark result",
		Args:  cobra.MaximumNArgs(1),
		RunE: benchExecCommand(func(inst *brun.BenchmarkInstance, ctx context.Context) error {
			return execGetAndReportResults(inst, ctx, wait, allowErr)
		}),
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the benchmark to finish")
	cmd.Flags().BoolVar(&allowErr, "allow-error", false, "Allow error in the benchmark result")
	return cmd
}

func execMetrics() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics [benchmark]",
		Short: "Get the metrics of all workers",
		Args:  cobra.MaximumNArgs(1),
		RunE: benchExecCommand(func(inst *brun.BenchmarkInstance, ctx context.Context) error {
			result, err := inst.Metrics(ctx)
			if err != nil {
				return fmt.Errorf("get metrics: %w", err)
			}

			for i, workerMetrics := range result {
				fmt.Printf("Worker %d (%s)\n", i, inst.Config().Endpoints[i])
				for _, key := range slices.Sorted(maps.Keys(workerMetrics)) {
					if !strings.HasPrefix(key, "as2_") {
						continue
					}
					reportMetric(workerMetrics[key], "\t")
				}
			}
			return nil
		}),
	}
}

func execGetAndReportResults(inst *brun.BenchmarkInstance, ctx context.Context, wait bool, allowErr bool) error {
	var result any
	var err error

	switch name := strings.ToLower(inst.Config().Benchmark); name {
	case "as2":
		result, err = inst.AS2().Result(ctx, wait, allowErr)
	default:
		return fmt.Errorf("unknown benchmark: %s", name)
	}
	if err != nil {
		return err
	}
	return printJSON(result)
}

type runE func(*cobra.Command, []string) error

func benchExecCommand(fn func(*brun.BenchmarkInstance, context.Context) error) runE {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := readExecConfig(args)
		if err != nil {
			return err
		}

		br := brun.New(brun.WithHTTPClient(&http.Client{Timeout: requestTimeout}))
		defer br.Close()

		inst, err := br.BenchmarkExec().Access(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return fn(inst, ctx)
	}
}

func readExecConfig(args []string) (cfg brun.ExecConfig, err error) {
	benchmark := "default"
	if len(args) > 0 {
		benchmark = args[0]
	}

	cfg, err = readConfigFile[brun.ExecConfig]("benchmarks." + benchmark)
	if err != nil {
		return cfg, fmt.Errorf("read benchmark config: %w", err)
	}
	return cfg, nil
}

func reportMetric(mf *dto.MetricFamily, indent string) {
	metrics := mf.GetMetric()
	if len(metrics) == 0 {
		return
	}

	fmt.Printf("%s%s", indent, mf.GetName())
	if len(metrics) > 1 {
		fmt.Println()
	}

	for _, metric := range metrics {
		if len(metrics) > 1 {
			fmt.Print(indent, indent)
		}

		if labels := metric.GetLabel(); len(labels) > 0 {
			pairs := make([]string, len(labels))
			for i, pair := range labels {
				pairs[i] = pair.GetName() + ": " + pair.GetValue()
			}
			fmt.Printf("{%s}", strings.Join(pairs, ", "))
		}
		fmt.Print(": ")

		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			fmt.Printf("%v", metric.GetCounter().GetValue())
		case dto.MetricType_GAUGE:
			fmt.Printf("%v", metric.GetGauge().GetValue())
		case dto.MetricType_HISTOGRAM:
			hist := metric.GetHistogram()
			samples := hist.GetSampleCount()
			sum := hist.GetSampleSum()
			avg := 0.0
			if samples > 0 {
				avg = sum / float64(samples)
			}
			fmt.Printf("samples=%v, sum=%v, avg=%v", samples, sum, avg)
		default:
			fmt.Printf("%v", metric.GetUntyped().GetValue())
		}
		fmt.Println()
	}
}
