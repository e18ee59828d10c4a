package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/opst/assetgraph/pkg/domain"
	"github.com/opst/assetgraph/pkg/fetcher/rest"
	"github.com/opst/assetgraph/pkg/livedata"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var (
		endpoint string
		thread   string
		interval time.Duration
		pollRate time.Duration
		count    int
		verbose  bool
	)
	cmd := &cobra.Command{
		Use:   "watch --endpoint URL KEY...",
		Short: "Poll live data of assets, and print changes as JSON lines",
		Long: `Poll live data of assets from a GraphQL endpoint, and print changes as JSON lines until interrupted.

Each line is a snapshot of live data by asset key, like {"s3/a": {...}, "b": null}.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make([]domain.AssetKey, 0, len(args))
			for _, a := range args {
				k, err := domain.ParseToken(a)
				if err != nil {
					return err
				}
				keys = append(keys, k)
			}

			logger := log.New(io.Discard, "", 0)
			if verbose {
				logger = log.New(cmd.ErrOrStderr(), "[watch] ", log.LstdFlags|log.Lmsgprefix)
			}
			fetcher, err := rest.New(endpoint, rest.WithLogger(logger))
			if err != nil {
				return err
			}

			options := []livedata.Option{livedata.WithLogger(logger)}
			if 0 < pollRate {
				options = append(options, livedata.WithThread(livedata.ThreadID(thread), pollRate))
			}
			m := livedata.New(fetcher, options...)
			defer func() {
				m.Close()
				m.Wait()
			}()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			var writeErr error
			printed := 0
			stop, err := livedata.Watch(m, keys, livedata.ThreadID(thread), interval, func(s map[string]*domain.LiveData) {
				mu.Lock()
				defer mu.Unlock()
				if writeErr != nil || (0 < count && count <= printed) {
					return
				}
				line, err := json.Marshal(s)
				if err == nil {
					_, err = fmt.Fprintln(out, string(line))
				}
				if err != nil {
					writeErr = err
					cancel()
					return
				}
				printed += 1
				if 0 < count && count <= printed {
					cancel()
				}
			})
			if err != nil {
				return err
			}
			defer stop()

			if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			return writeErr
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "GraphQL endpoint serving live data")
	cmd.Flags().StringVar(&thread, "thread", string(livedata.DefaultThread), "thread to poll keys on")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "minimum interval between lines")
	cmd.Flags().DurationVar(&pollRate, "poll-rate", 0, "poll rate. 0 means the default")
	cmd.Flags().IntVar(&count, "count", 0, "exit after printing this many lines. 0 means until interrupted")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log fetches to stderr")
	cmd.MarkFlagRequired("endpoint")
	return cmd
}
