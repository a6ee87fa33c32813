// Package config loads process configuration from environment variables
// (optionally backed by a .env file), mirroring every key in SPEC_FULL.md
// section 6. Each of the three entrypoints (camera-worker, signaling,
// recognitiond) loads the subset it needs; unused sections are harmless.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server       ServerConfig
	ControlPlane ControlPlaneConfig
	WebRTC       WebRTCConfig
	Recognition  RecognitionConfig
	Unknowns     UnknownsConfig
	FrameBus     FrameBusConfig
	Encode       EncodeConfig
	Overlay      OverlayConfig
	NATS         NATSConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host string
	Port string
}

type ControlPlaneConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

type WebRTCConfig struct {
	UDPPortMin uint16
	UDPPortMax uint16
}

type RecognitionConfig struct {
	Endpoint         string
	ModelDir         string
	DetConfMin       float64
	SimMatch         float64
	IndexExactMax    int
	SoftTimeout      time.Duration
	HardTimeout      time.Duration
}

type UnknownsConfig struct {
	ClusterDist            float64
	MinPresence            time.Duration
	MinFrames              int
	MinFacePx              int
	MinQuality             float64
	Cooldown               time.Duration
	Idle                   time.Duration
	MaxCandidatesPerCamera int
}

type FrameBusConfig struct {
	Capacity int
}

type EncodeConfig struct {
	TargetBitrateKbps  int
	KeyframeIntervalS  int
}

type OverlayConfig struct {
	DeadlineMs int
}

type NATSConfig struct {
	URL string
}

type RedisConfig struct {
	Addr string
}

type JWTConfig struct {
	Secret string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("BIND_HOST", "0.0.0.0"),
			Port: getEnv("PORT", "8080"),
		},
		ControlPlane: ControlPlaneConfig{
			BaseURL:    getEnv("CONTROL_PLANE_URL", "http://localhost:9000"),
			Timeout:    getDuration("CONTROL_PLANE_TIMEOUT", 5*time.Second),
			RetryCount: getInt("CONTROL_PLANE_RETRY_COUNT", 3),
		},
		WebRTC: WebRTCConfig{
			UDPPortMin: uint16(getInt("UDP_PORT_MIN", 40000)),
			UDPPortMax: uint16(getInt("UDP_PORT_MAX", 40100)),
		},
		Recognition: RecognitionConfig{
			Endpoint:      getEnv("RECOGNITION_ENDPOINT", "localhost:50051"),
			ModelDir:      getEnv("MODEL_DIR", "./models"),
			DetConfMin:    getFloat("DET_CONF_MIN", 0.5),
			SimMatch:      getFloat("SIM_MATCH", 0.60),
			IndexExactMax: getInt("INDEX_EXACT_MAX", 20000),
			SoftTimeout:   getDuration("RECOGNITION_SOFT_TIMEOUT_MS", 120*time.Millisecond),
			HardTimeout:   getDuration("RECOGNITION_HARD_TIMEOUT_MS", 500*time.Millisecond),
		},
		Unknowns: UnknownsConfig{
			ClusterDist:            getFloat("CLUSTER_DIST", 0.4),
			MinPresence:            getDuration("MIN_PRESENCE_MS", 2000*time.Millisecond),
			MinFrames:              getInt("MIN_FRAMES", 10),
			MinFacePx:              getInt("MIN_FACE_PX", 80),
			MinQuality:             getFloat("MIN_QUALITY", 0.5),
			Cooldown:               getDuration("COOLDOWN_MS", 60000*time.Millisecond),
			Idle:                   getDuration("IDLE_MS", 5000*time.Millisecond),
			MaxCandidatesPerCamera: getInt("MAX_CANDIDATES_PER_CAMERA", 64),
		},
		FrameBus: FrameBusConfig{
			Capacity: getInt("FRAME_BUS_CAPACITY", 4),
		},
		Encode: EncodeConfig{
			TargetBitrateKbps: getInt("TARGET_BITRATE_KBPS", 1500),
			KeyframeIntervalS: getInt("KEYFRAME_INTERVAL_S", 2),
		},
		Overlay: OverlayConfig{
			DeadlineMs: getInt("OVERLAY_DEADLINE_MS", 100),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", "nats://localhost:4222"),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return defaultValue
}
