package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telnet2/winbus/internal/logging"
	"github.com/telnet2/winbus/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP bridge to the event bus",
	Long: `Serve exposes the bus over HTTP: GET /event streams envelopes as
server-sent events, POST /event fires one, and GET /event/{name}
returns the latest envelope for a name.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, cleanup, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	srvConfig := server.DefaultConfig()
	srvConfig.Port = cfg.Server.Port
	if servePort != 0 {
		srvConfig.Port = servePort
	}
	if cfg.Server.CORS != nil {
		srvConfig.EnableCORS = *cfg.Server.CORS
	}

	srv := server.New(srvConfig, b)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logging.Info().Int("port", srvConfig.Port).Str("store", cfg.Store).Msg("winbus server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
