package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dovechat-devserver",
	Short: "Development backend for the dovechat client (REST + websocket)",
	RunE:  runServer,
}

var (
	flagPort     int
	flagDataPath string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.IntVar(&flagPort, "port", 8090, "HTTP port")
	flags.StringVar(&flagDataPath, "data-path", "", "optional directory to persist state via PebbleDB")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute devserver command")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	// Cancellation context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(flagDataPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	hub := newHub()
	handler := NewHandler(store, hub)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", flagPort),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info().Msgf("[devserver] serving at http://127.0.0.1:%d", flagPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("[devserver] http error")
		}
	}()

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("[devserver] shutdown error")
	}
	hub.closeAll()
	hub.wait()
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("[devserver] store close error")
	}
	log.Info().Msg("[devserver] shutdown complete")
	return nil
}
