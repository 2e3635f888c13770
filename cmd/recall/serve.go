package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abelbrown/recall/internal/api"
	"github.com/abelbrown/recall/internal/metrics"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cfg, done, err := openAssistant()
			if err != nil {
				return err
			}
			defer done()

			if addr == "" {
				addr = cfg.Server.Addr
			}
			srv := api.New(a, api.Options{
				EnableCORS: cfg.Server.EnableCORS,
				Debug:      cfg.Server.Debug,
				Metrics:    metrics.Default().Handler(),
			})
			fmt.Println(styleSuccess.Render("recall listening on http://" + addr))
			return srv.Run(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
