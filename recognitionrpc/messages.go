// Package recognitionrpc defines the typed request/reply contract
// between a Camera Worker and the Recognition Engine process
// (SPEC_FULL.md 4.3 / 9), replacing the source system's dynamically
// typed pub/sub JSON channel per the REDESIGN FLAG.
//
// Wire types are plain Go structs carried over gRPC using a small
// registered JSON codec (codec.go) rather than protoc-generated
// messages: this environment cannot invoke the protobuf compiler, and
// hand-authoring the protoreflect machinery protoc-gen-go emits would
// not be a faithful substitute for real generated code. gRPC's
// encoding.Codec extension point is the documented way to carry
// non-protobuf payloads over the same transport, service-definition,
// and deadline/cancellation semantics as a protoc-generated service, so
// every other guarantee in this package (typed request/reply, streaming
// transport, context cancellation) still holds.
package recognitionrpc

import "command-center-vms-cctv/be/model"

type RecognizeRequest struct {
	CameraID       string
	FrameIndex     uint64
	Width          int
	Height         int
	PixelFormat    string
	Pixels         []byte
	MinIndexVersion uint64
}

type RecognizeReply struct {
	Faces       []model.FaceRecord
	IndexVersion uint64
	Partial     bool
}

type ReloadIndexRequest struct {
	Persons    []model.Person
	Embeddings []model.FaceEmbedding
}

type ReloadIndexReply struct {
	Version uint64
}

type Empty struct{}

type HealthStatus struct {
	Ready        bool
	IndexVersion uint64
	Detail       string
}
