package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jask/dotsend/internal/api"
	"github.com/jask/dotsend/internal/notify"
)

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve balances and transfers over GraphQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(c.cfg, c.log)
			if err != nil {
				return err
			}
			defer rt.Close()

			// Notices reach API callers as errors; only log them here.
			ctl, err := rt.controller(notify.Func(func(notify.Notice) {}), "", nil)
			if err != nil {
				return err
			}
			defer ctl.Close()

			resolver := &api.Resolver{Conns: rt.conns, Transfers: ctl, Log: c.log}
			if rt.journal != nil {
				resolver.History = rt.journal
			}
			handler, err := api.NewHandler(resolver)
			if err != nil {
				return err
			}
			mux := http.NewServeMux()
			mux.Handle("/graphql", handler)

			if addr == "" {
				addr = c.cfg.Serve.Addr
			}
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			c.log.Info("Serving GraphQL", zap.String("addr", addr))
			cmd.Printf("GraphQL on http://%s/graphql\n", addr)

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default serve.addr)")
	return cmd
}
