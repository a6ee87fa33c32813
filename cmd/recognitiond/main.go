// Command recognitiond hosts the Recognition Engine behind the
// recognitionrpc gRPC service (SPEC_FULL.md 4.3, 4.10, 9): one process,
// one Engine, serialized compute shared across every Camera Worker that
// dials in.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"command-center-vms-cctv/be/config"
	"command-center-vms-cctv/be/controlplane"
	"command-center-vms-cctv/be/events"
	"command-center-vms-cctv/be/logging"
	"command-center-vms-cctv/be/model"
	"command-center-vms-cctv/be/recognition"
	"command-center-vms-cctv/be/recognitionrpc"
)

func frameFromRequest(req *recognitionrpc.RecognizeRequest) model.Frame {
	return model.Frame{
		CameraID: req.CameraID, Index: req.FrameIndex,
		Width: req.Width, Height: req.Height,
		PixelFormat: req.PixelFormat, Pixels: req.Pixels,
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		os.Stderr.WriteString("recognitiond: no .env file found, using environment variables\n")
	}
	cfg := config.Load()
	log := logging.Component(logging.Init(cfg.Logging.Level, cfg.Logging.Format), "recognitiond")

	engine, err := recognition.NewEngine(recognition.Config{
		CascadePath: cfg.Recognition.ModelDir + "/haarcascade_frontalface_default.xml",
		ModelPath:   cfg.Recognition.ModelDir + "/arcface.onnx",
		DetConfMin:  cfg.Recognition.DetConfMin,
		SimMatch:    cfg.Recognition.SimMatch,
		ExactMax:    cfg.Recognition.IndexExactMax,
		SoftTimeout: cfg.Recognition.SoftTimeout,
		HardTimeout: cfg.Recognition.HardTimeout,
	}, runtime.NumCPU())
	if err != nil {
		log.Fatal().Err(err).Msg("recognitiond: engine init failed")
	}
	defer engine.Close()

	cp := controlplane.New(cfg.ControlPlane)
	srv := &server{engine: engine, cp: cp, log: log}

	grpcServer := grpc.NewServer(recognitionrpc.ServerOption())
	recognitionrpc.RegisterServer(grpcServer, srv)

	lis, err := net.Listen("tcp", cfg.Recognition.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Str("endpoint", cfg.Recognition.Endpoint).Msg("recognitiond: listen failed")
	}

	// recognitiond is the one long-lived process every Camera Worker
	// already depends on, so it also hosts the Event Bus Relay: Camera
	// Workers only ever publish onto NATS, and this process fans those
	// publishes out to the Control Plane Collaborator (SPEC_FULL.md 4.9,
	// 4.10, 6).
	bus, err := events.Connect(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("recognitiond: nats connect failed")
	}
	defer bus.Close()
	relay := events.NewRelay(bus, cp, log)
	relayCtx, cancelRelay := context.WithCancel(context.Background())
	go func() {
		if err := relay.Start(relayCtx); err != nil && relayCtx.Err() == nil {
			log.Error().Err(err).Msg("recognitiond: event relay stopped")
		}
	}()

	reloadCtx, cancelReload := context.WithCancel(context.Background())
	go srv.reloadLoop(reloadCtx)

	log.Info().Str("endpoint", cfg.Recognition.Endpoint).Msg("recognitiond: serving")

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("recognitiond: serve failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("recognitiond: shutting down")
	cancelReload()
	cancelRelay()
	grpcServer.GracefulStop()
}

// server adapts recognition.Engine to the recognitionrpc.Server
// interface and owns the periodic index-reload poll against the
// Control Plane Collaborator.
type server struct {
	engine *recognition.Engine
	cp     *controlplane.Client
	log    zerolog.Logger

	version uint64
}

func (s *server) Recognize(ctx context.Context, req *recognitionrpc.RecognizeRequest) (*recognitionrpc.RecognizeReply, error) {
	result, err := s.engine.Recognize(ctx, frameFromRequest(req))
	if err != nil {
		return nil, err
	}
	return &recognitionrpc.RecognizeReply{
		Faces: result.Faces, IndexVersion: result.IndexVersion, Partial: result.Partial,
	}, nil
}

func (s *server) ReloadIndex(_ context.Context, req *recognitionrpc.ReloadIndexRequest) (*recognitionrpc.ReloadIndexReply, error) {
	version := s.engine.ReloadIndex(req.Persons, req.Embeddings)
	return &recognitionrpc.ReloadIndexReply{Version: version}, nil
}

func (s *server) Health(_ context.Context, _ *recognitionrpc.Empty) (*recognitionrpc.HealthStatus, error) {
	return &recognitionrpc.HealthStatus{Ready: s.engine.Ready()}, nil
}

// reloadLoop polls the Control Plane for embedding catalog changes and
// pushes them into the Engine's Identity Index, decoupling Recognize
// latency from Control Plane availability entirely.
func (s *server) reloadLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			embeddings, version, err := s.cp.ListEmbeddingsSince(ctx, s.version)
			if err != nil || len(embeddings) == 0 {
				continue
			}
			persons, err := s.cp.ListPersons(ctx)
			if err != nil {
				continue
			}
			s.version = s.engine.ReloadIndex(persons, embeddings)
			s.log.Info().Uint64("version", version).Msg("recognitiond: index reloaded")
		}
	}
}
