package main

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncpool/pkg/config"
	"github.com/ajitpratap0/syncpool/pkg/json"
	"github.com/ajitpratap0/syncpool/pkg/pool"
	"github.com/ajitpratap0/syncpool/pkg/registry"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check every configured pool against the sizing rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			warnings, err := a.cfg.Validate()
			out := cmd.OutOrStdout()
			for _, w := range warnings {
				fmt.Fprintln(out, "warning:", w)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d pools ok\n", len(a.cfg.Pools))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return json.MarshalToWriter(cmd.OutOrStdout(), a.cfg, "  ")
		},
	})

	var out string
	save := &cobra.Command{
		Use:   "save",
		Short: "Write the effective configuration to a YAML or TOML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Save(out, a.cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", out)
			return nil
		},
	}
	save.Flags().StringVarP(&out, "output", "o", "", "Destination path (.yaml, .yml or .toml)")
	_ = save.MarkFlagRequired("output")
	cmd.AddCommand(save)

	return cmd
}

// bufferPool is the pool type built for configured pools
type bufferPool = pool.Pool[*bytes.Buffer]

func newBufferPool(a *app, pc config.PoolConfig) (*bufferPool, error) {
	return pool.New[*bytes.Buffer](pc.ToPool(), pool.NewFuncAllocator(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) { b.Reset() },
	), pool.WithLogger[*bytes.Buffer](a.logger))
}

func newPoolsCmd(a *app) *cobra.Command {
	var acquire int
	cmd := &cobra.Command{
		Use:   "pools",
		Short: "Build the configured pools and report their statistics",
		Long: `Builds each configured pool of byte buffers, optionally checks out --acquire entries
from each to show growth, and prints the resulting statistics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.cfg.Validate(); err != nil {
				return err
			}

			var stats []pool.Stats
			for _, pc := range a.cfg.Pools {
				pc := pc
				if _, err := a.registry.GetOrCreate(pc.Name, func() (io.Closer, error) {
					p, err := newBufferPool(a, pc)
					if err != nil {
						return nil, err
					}
					return p, nil
				}); err != nil {
					return err
				}
				p, err := registry.Lookup[*bufferPool](a.registry, pc.Name)
				if err != nil {
					return err
				}

				held, err := acquireN(p, acquire, pc.AcquireTimeout)
				if err != nil {
					return err
				}
				s, err := p.Stats()
				if err != nil {
					return err
				}
				stats = append(stats, s)
				for _, e := range held {
					if err := e.Release(); err != nil {
						a.logger.Warn("release failed", zap.String("pool", pc.Name), zap.Error(err))
					}
				}
			}
			return a.printStats(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().IntVar(&acquire, "acquire", 0, "Entries to check out from each pool before reporting")
	return cmd
}

// acquireN checks out up to n entries, stopping early when the pool is exhausted
func acquireN(p *bufferPool, n int, timeout time.Duration) ([]*pool.Entry[*bytes.Buffer], error) {
	held := make([]*pool.Entry[*bytes.Buffer], 0, n)
	for i := 0; i < n; i++ {
		e, err := p.Acquire(timeout, nil)
		if err != nil {
			return held, err
		}
		if e == nil {
			break
		}
		held = append(held, e)
	}
	return held, nil
}

func (a *app) printStats(w io.Writer, stats []pool.Stats) error {
	if a.jsonOutput {
		return json.MarshalToWriter(w, stats, "  ")
	}
	if len(stats) == 0 {
		fmt.Fprintln(w, "no pools configured")
		return nil
	}
	fmt.Fprintf(w, "%-24s %10s %10s %12s %8s %8s\n", "NAME", "ALLOCATED", "QUEUED", "CHECKED OUT", "LIMIT", "BLOCK")
	for _, s := range stats {
		limit := fmt.Sprint(s.Limit)
		if s.Limit == pool.Unbounded {
			limit = "-"
		}
		fmt.Fprintf(w, "%-24s %10d %10d %12d %8s %8d\n", s.Name, s.Allocated, s.Queued, s.CheckedOut, limit, s.AllocBlock)
	}
	return nil
}
