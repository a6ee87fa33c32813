// Package model holds the plain data types shared across every stage of
// the pipeline, per SPEC_FULL.md section 3. None of these types carry
// persistence tags (gorm, json struct tags for storage) — the core reads
// Camera/Person/FaceEmbedding as read-only snapshots from the control
// plane collaborator and never owns their durable form.
package model

import "time"

// SourceKind is a Camera's capture source.
type SourceKind string

const (
	SourceRTSP SourceKind = "rtsp"
	SourceFile SourceKind = "file"
)

// Camera is the read-only snapshot consumed from the control plane at
// worker start. Field shape mirrors the teacher's gorm Camera model,
// stripped of persistence concerns.
type Camera struct {
	ID        string
	Name      string
	Source    SourceKind
	URI       string
	Username  string
	Password  string
	FPSLimit  int
	Enabled   bool
}

// Person is an enrolled identity, owned by the control plane.
type Person struct {
	ID     string
	Name   string
	Status string // "active" | "inactive"
}

// FaceEmbedding is one person's enrolled face vector.
type FaceEmbedding struct {
	PersonID string
	Vector   []float32 // 512-d, L2-normalized
	Quality  float64
}

// Frame is a single decoded video frame moving through the Frame Bus.
// Ownership is exclusive: once a stage hands a Frame to the next bus, it
// must not touch the Pixels buffer again.
type Frame struct {
	CameraID    string
	Index       uint64
	CapturedAt  time.Time
	Width       int
	Height      int
	PixelFormat string // "rgb24" | "nv12"
	Pixels      []byte
}

// Box is an axis-aligned bounding box in frame pixel coordinates.
type Box struct {
	X, Y, W, H int
}

// FaceDetection is a single detected face within one recognize() call,
// before identity lookup.
type FaceDetection struct {
	Box        Box
	Confidence float64
	PoseYaw    float64
	PosePitch  float64
}

// FaceRecord is one face as returned by the Recognition Engine: a
// detection plus its identity verdict.
type FaceRecord struct {
	Box        Box
	Embedding  []float32
	PersonID   string // "" when IsUnknown
	Similarity float64
	IsUnknown  bool
	Quality    float64
}

// RecognitionResult is the Recognition Engine's reply for one frame.
type RecognitionResult struct {
	CameraID    string
	FrameIndex  uint64
	Faces       []FaceRecord
	IndexVersion uint64
	Partial     bool // true if the soft or hard timeout truncated detection
}

// UnknownCandidate is the Unknown Admission Policy's ephemeral tracking
// handle for one face cluster on one camera.
type UnknownCandidate struct {
	ClusterID    string
	CameraID     string
	FirstSeen    time.Time
	LastSeen     time.Time
	FrameCount   int
	MaxQuality   float64
	LastEmbedding []float32
	LastAdmitted time.Time
}

// WorkerHealth is the Registry's per-camera cached record.
type WorkerHealth struct {
	CameraID        string
	State           string
	LastTransition  time.Time
	FPS             float64
	Viewers         int
	LastErrorKind   string
}
