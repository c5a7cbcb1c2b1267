package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrisonrobin/taskboard/pkg/api"
	"github.com/harrisonrobin/taskboard/pkg/logging"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve tasks as a JSON API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "address to listen on (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tr, cfg, err := openTracker(ctx)
	if err != nil {
		return err
	}
	defer tr.Close()
	tr.Start(ctx)
	tr.Refresh()

	addr := cfg.Listen
	if listenAddr != "" {
		addr = listenAddr
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(api.NewTaskHandler(tr)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Logger.Infof("Serving %s tasks on http://%s", cfg.Backend, addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logging.Logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
