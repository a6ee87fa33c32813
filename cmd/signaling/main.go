// Command signaling runs the WebRTC Signaling & Session process
// (SPEC_FULL.md 4.8): one process hosting every camera's viewer
// endpoints cooperatively, fed by each Camera Worker process over the
// shared NATS connection (see the streaming package).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"command-center-vms-cctv/be/config"
	"command-center-vms-cctv/be/events"
	"command-center-vms-cctv/be/logging"
	"command-center-vms-cctv/be/registry"
	"command-center-vms-cctv/be/signaling"
)

func main() {
	if err := godotenv.Load(); err != nil {
		os.Stderr.WriteString("signaling: no .env file found, using environment variables\n")
	}
	cfg := config.Load()
	log := logging.Component(logging.Init(cfg.Logging.Level, cfg.Logging.Format), "signaling")

	bus, err := events.Connect(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("signaling: nats connect failed")
	}
	defer bus.Close()

	reg := registry.New(cfg.Redis.Addr)
	defer reg.Close()

	srv := signaling.NewServer(cfg, reg, bus, log)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv.Router()}

	go func() {
		log.Info().Str("addr", addr).Msg("signaling: serving")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("signaling: serve failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("signaling: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}
