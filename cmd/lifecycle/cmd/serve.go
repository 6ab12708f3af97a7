package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-lifecycle/identity"
	"github.com/jrsteele09/go-auth-lifecycle/internal/metrics"
	"github.com/jrsteele09/go-auth-lifecycle/internal/store/sqlite"
	"github.com/jrsteele09/go-auth-lifecycle/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const appName = "Auth Lifecycle"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session and credential HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		a, err := openApp(metrics.New(reg))
		if err != nil {
			return err
		}
		defer a.Close()

		registry, err := a.registry()
		if err != nil {
			return err
		}
		reconciler, err := a.reconciler()
		if err != nil {
			return err
		}
		lister, err := a.lister()
		if err != nil {
			return err
		}
		authenticator, err := identity.NewHTTPTransport(cfg.GetIdentityBaseURL())
		if err != nil {
			return err
		}

		handler, err := server.New(cfg, server.Deps{
			Sessions:      registry,
			Authenticator: authenticator,
			Principals:    sqlite.NewPrincipalRepo(a.db),
			Credentials:   reconciler,
			Lister:        lister,
			Gatherer:      reg,
		})
		if err != nil {
			return err
		}

		displayAppname(appName)
		srv := &http.Server{
			Addr:              cfg.GetListenAddr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() { errCh <- listenAndServe(srv) }()

		select {
		case err := <-errCh:
			return err
		case <-waitForStopSignal():
		}
		return shutdown(srv)
	},
}

func listenAndServe(srv *http.Server) error {
	log.Info().Str("addr", srv.Addr).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
