// Package encode implements the Encode Stage (SPEC_FULL.md 4.6): VP8
// encoding via an FFmpeg/libvpx subprocess fed annotated frames on
// stdin, reading back IVF-framed VP8 packets on stdout. The IVF framing
// (32-byte file header, then a 12-byte header per frame: 4-byte
// little-endian size and 8-byte timestamp) is
// the same container the WebRTC RTSP-to-VP8 path in this codebase's
// ancestry already parses; here the pipe runs in the opposite
// direction, raw frames in, encoded packets out.
package encode

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"time"

	"command-center-vms-cctv/be/model"
)

// Packet is one encoded VP8 frame ready for WebRTC fan-out.
type Packet struct {
	CameraID   string
	FrameIndex uint64
	Data       []byte
	Keyframe   bool
	Timestamp  time.Time
}

type Encoder struct {
	cameraID string
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   *bufio.Reader

	// indices carries each pushed frame's Index in push order, so Next
	// can stamp it back onto the packet it produces. FFmpeg's rawvideo
	// pipe already preserves FIFO order end to end; this channel rides
	// that same guarantee rather than re-deriving it, giving invariant-1
	// ordering (SPEC_FULL.md section 3) an explicit field to assert on
	// instead of resting solely on ffmpeg's behavior.
	indices chan uint64
}

// Error wraps the single EncodeError kind this stage raises.
type Error struct{ Err error }

func (e *Error) Error() string { return fmt.Sprintf("encode: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// New starts an FFmpeg subprocess encoding a raw rgb24 stream of the
// given resolution to VP8/IVF at targetBitrateKbps with a keyframe every
// keyframeIntervalS seconds at the given fps.
func New(cameraID string, width, height, fps, targetBitrateKbps, keyframeIntervalS int) (*Encoder, error) {
	gop := fps * keyframeIntervalS
	args := []string{
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", fmt.Sprintf("%d", fps),
		"-i", "pipe:0",
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", fmt.Sprintf("%dk", targetBitrateKbps),
		"-maxrate", fmt.Sprintf("%dk", targetBitrateKbps),
		"-bufsize", fmt.Sprintf("%dk", targetBitrateKbps*2),
		"-g", fmt.Sprintf("%d", gop),
		"-keyint_min", fmt.Sprintf("%d", gop),
		"-f", "ivf",
		"pipe:1",
	}
	cmd := exec.Command("ffmpeg", args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return nil, &Error{Err: fmt.Errorf("start ffmpeg: %w", err)}
	}

	e := &Encoder{
		cameraID: cameraID, cmd: cmd, stdin: stdin,
		stdout:  bufio.NewReaderSize(stdout, 1<<20),
		indices: make(chan uint64, 256),
	}
	if err := e.consumeIVFHeader(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Encoder) consumeIVFHeader() error {
	header := make([]byte, 32)
	if _, err := io.ReadFull(e.stdout, header); err != nil {
		return &Error{Err: fmt.Errorf("read ivf header: %w", err)}
	}
	if string(header[0:4]) != "DKIF" {
		return &Error{Err: fmt.Errorf("invalid ivf header signature")}
	}
	return nil
}

// Push writes one annotated frame's pixels to the encoder's stdin.
func (e *Encoder) Push(frame model.Frame) error {
	if _, err := e.stdin.Write(frame.Pixels); err != nil {
		return &Error{Err: fmt.Errorf("write frame: %w", err)}
	}
	e.indices <- frame.Index
	return nil
}

// Next blocks for the next encoded packet. Returns io.EOF when the
// encoder process has exited.
func (e *Encoder) Next() (Packet, error) {
	frameHeader := make([]byte, 12) // size(4) + pts(8), per IVF frame framing
	if _, err := io.ReadFull(e.stdout, frameHeader); err != nil {
		if err == io.EOF {
			return Packet{}, io.EOF
		}
		return Packet{}, &Error{Err: fmt.Errorf("read frame header: %w", err)}
	}
	size := binary.LittleEndian.Uint32(frameHeader[0:4])
	if size == 0 {
		return Packet{}, &Error{Err: fmt.Errorf("zero-length frame")}
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(e.stdout, data); err != nil {
		return Packet{}, &Error{Err: fmt.Errorf("read frame data: %w", err)}
	}

	frameIndex, ok := <-e.indices
	if !ok {
		return Packet{}, &Error{Err: fmt.Errorf("encoder closed mid-stream")}
	}

	return Packet{
		CameraID:   e.cameraID,
		FrameIndex: frameIndex,
		Data:       data,
		Keyframe:   IsKeyframe(data),
		Timestamp:  time.Now(),
	}, nil
}

// Close tears down the FFmpeg subprocess.
func (e *Encoder) Close() {
	_ = e.stdin.Close()
	_ = e.cmd.Process.Kill()
	_ = e.cmd.Wait()
	close(e.indices)
}

// IsKeyframe reports whether a VP8 payload starts a keyframe, read
// directly from the uncompressed data chunk's frame tag (RFC 6386
// section 9.1): the low bit of the first byte is the inverted key/inter
// frame flag. This mirrors the P-bit check a full VP8 RTP depacketizer
// performs, reduced to the single fact this stage needs — no temporal
// layer bookkeeping, since this deployment has no temporal scalability
// (SPEC_FULL.md 4.6).
func IsKeyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	return payload[0]&0x01 == 0
}
