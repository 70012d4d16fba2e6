package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/localdoc/docsearch/internal/server"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the localhost HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		var srv *server.Server
		c, cleanup, err := setup(ctx, func(fatal error) {
			slog.Error("entering read-only mode", slog.String("error", fatal.Error()))
			if srv != nil {
				srv.EnterReadOnly()
			}
		})
		if err != nil {
			return err
		}
		defer cleanup()

		srv = server.New(c)
		c.Scheduler.Start(ctx)

		host := c.Config.Server.Host
		if serveHost != "" {
			host = serveHost
		}
		port := c.Config.Server.Port
		if servePort != 0 {
			port = servePort
		}

		fmt.Printf("serving on http://%s:%d\n", host, port)
		return srv.Start(ctx, host, port)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "bind port (default from config)")
}
