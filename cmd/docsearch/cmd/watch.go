package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/localdoc/docsearch/internal/watcher"
	"github.com/localdoc/docsearch/internal/xerrors"
)

var watchCmd = &cobra.Command{
	Use:   "watch <path>...",
	Short: "Watch directories and keep the index current",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		c, cleanup, err := setup(ctx, nil)
		if err != nil {
			return err
		}
		defer cleanup()

		w, err := watcher.New(watcher.Options{
			Include:        c.Config.Watch.Include,
			Exclude:        c.Config.Watch.Exclude,
			MinFileSize:    c.Config.Watch.MinFileSize,
			MaxFileSize:    c.Config.Watch.MaxFileSize,
			DebounceWindow: c.Config.Watch.DebounceWindow,
		})
		if err != nil {
			return xerrors.Wrap(xerrors.KindIO, "start watcher", err)
		}
		for _, root := range args {
			if err := w.Add(root); err != nil {
				return xerrors.Wrap(xerrors.KindIO, "watch "+root, err)
			}
			fmt.Printf("watching %s\n", root)
		}

		c.Scheduler.Start(ctx)
		go w.Run(ctx)

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-w.Events():
				if !ok {
					return nil
				}
				resolved, err := c.Resolver.Resolve(ctx, ev)
				if err != nil {
					slog.Warn("resolve_failed",
						slog.String("path", ev.Path),
						slog.String("error", err.Error()))
					continue
				}
				if err := c.Scheduler.Enqueue(*resolved); err != nil {
					slog.Warn("enqueue_failed",
						slog.String("path", ev.Path),
						slog.String("error", err.Error()))
				}
			case err, ok := <-w.Errors():
				if !ok {
					return nil
				}
				slog.Warn("watcher_error", slog.String("error", err.Error()))
			}
		}
	},
}
