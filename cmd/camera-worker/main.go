// Command camera-worker runs one Camera Worker instance (SPEC_FULL.md
// 4.7): it owns exactly one camera, selected by the CAMERA_ID
// environment variable, and is meant to be supervised one-process-
// per-camera (systemd, a k8s Deployment per camera, or a simple
// process-per-camera launcher script — out of this core's scope).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"command-center-vms-cctv/be/config"
	"command-center-vms-cctv/be/controlplane"
	"command-center-vms-cctv/be/events"
	"command-center-vms-cctv/be/logging"
	"command-center-vms-cctv/be/model"
	"command-center-vms-cctv/be/recognitionrpc"
	"command-center-vms-cctv/be/registry"
	"command-center-vms-cctv/be/streaming"
	"command-center-vms-cctv/be/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		os.Stderr.WriteString("camera-worker: no .env file found, using environment variables\n")
	}
	cfg := config.Load()
	log := logging.Component(logging.Init(cfg.Logging.Level, cfg.Logging.Format), "camera-worker")

	cameraID := os.Getenv("CAMERA_ID")
	if cameraID == "" {
		log.Fatal().Msg("camera-worker: CAMERA_ID is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cp := controlplane.New(cfg.ControlPlane)
	cameras, err := cp.ListCameras(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("camera-worker: list cameras failed")
	}
	camera, ok := findCamera(cameras, cameraID)
	if !ok {
		log.Fatal().Str("camera_id", cameraID).Msg("camera-worker: camera not found or disabled")
	}

	conn, err := grpc.Dial(cfg.Recognition.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		recognitionrpc.DialOption(),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("camera-worker: dial recognitiond failed")
	}
	defer conn.Close()
	rpc := recognitionrpc.NewClient(conn)

	bus, err := events.Connect(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("camera-worker: nats connect failed")
	}
	defer bus.Close()

	reg := registry.New(cfg.Redis.Addr)
	defer reg.Close()

	sink, err := streaming.NewNATSSink(bus, cameraID)
	if err != nil {
		log.Fatal().Err(err).Msg("camera-worker: nats sink init failed")
	}
	defer sink.Close()

	w, err := worker.New(*cfg, camera, rpc, bus, reg, sink, log)
	if err != nil {
		log.Fatal().Err(err).Msg("camera-worker: init failed")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info().Msg("camera-worker: shutting down")
		cancel()
	}()

	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("camera-worker: fatal termination")
	}
}

func findCamera(cameras []model.Camera, id string) (model.Camera, bool) {
	for _, c := range cameras {
		if c.ID == id && c.Enabled {
			return c, true
		}
	}
	return model.Camera{}, false
}
