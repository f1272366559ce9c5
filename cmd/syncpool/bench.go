package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncpool/internal/bench"
	"github.com/ajitpratap0/syncpool/pkg/json"
)

func newBenchCmd(a *app) *cobra.Command {
	counter := bench.DefaultCounterOptions()
	queue := bench.DefaultQueueOptions()
	pool := bench.DefaultPoolOptions()

	cmd := &cobra.Command{
		Use:       "bench [syncobj|queue|pool|all]",
		Short:     "Run the threaded correctness and throughput scenarios",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"syncobj", "queue", "pool", "all"},
		Example: `  syncpool bench queue --count 100000
  syncpool bench pool --limit 512 --block 64 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			which := "all"
			if len(args) == 1 {
				which = args[0]
			}
			if cmd.Flags().Changed("count") {
				queue.Count = pool.Count
				counter.Count = pool.Count
			}

			type scenario struct {
				name string
				run  func() (bench.Result, error)
			}
			ctx := cmd.Context()
			scenarios := []scenario{
				{"syncobj", func() (bench.Result, error) { return bench.Counter(ctx, a.logger, counter) }},
				{"queue", func() (bench.Result, error) { return bench.Queue(ctx, a.logger, queue) }},
				{"pool", func() (bench.Result, error) { return bench.Pool(ctx, a.logger, pool) }},
			}

			var results []bench.Result
			for _, s := range scenarios {
				if which != "all" && which != s.name {
					continue
				}
				a.logger.Info("bench started", zap.String("scenario", s.name))
				res, err := s.run()
				if err != nil {
					return fmt.Errorf("%s bench failed: %w", s.name, err)
				}
				results = append(results, res)
			}
			if len(results) == 0 {
				return fmt.Errorf("unknown scenario %q", which)
			}
			return a.printResults(cmd.OutOrStdout(), results)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&pool.Count, "count", pool.Count, "Operations per scenario (per worker for syncobj)")
	flags.IntVar(&counter.Workers, "workers", counter.Workers, "Counter goroutines for the syncobj scenario")
	flags.IntVar(&pool.Limit, "limit", pool.Limit, "Pool allocation limit")
	flags.IntVar(&pool.AllocBlock, "block", pool.AllocBlock, "Pool allocation block size")
	return cmd
}

func (a *app) printResults(w io.Writer, results []bench.Result) error {
	if a.jsonOutput {
		return json.MarshalToWriter(w, results, "  ")
	}
	for _, r := range results {
		fmt.Fprintln(w, r)
		for k, v := range r.Details {
			fmt.Fprintf(w, "  %s: %v\n", k, v)
		}
		fmt.Fprintf(w, "  rss: %d MiB, cpu: %.0f%%, gc: %d\n",
			r.Resources.MemoryRSS>>20, r.Resources.CPUPercent, r.Resources.NumGC)
	}
	return nil
}
