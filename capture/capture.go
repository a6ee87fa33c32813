// Package capture implements the Capture-Decode Stage (SPEC_FULL.md
// 4.2): opening an RTSP or MP4 file source, decoding it through OpenCV's
// VideoCapture (which transparently picks a hardware-accelerated FFmpeg
// backend when the platform advertises one), and delivering frames at a
// bounded FPS onto a framebus.Bus.
package capture

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"command-center-vms-cctv/be/framebus"
	"command-center-vms-cctv/be/model"
)

// Error kinds returned by Open/Run, matching SPEC_FULL.md section 7.
type Error struct {
	Kind string // "AuthError" | "ConnectError" | "StreamLost" | "DecodeError" | "UnsupportedCodec" | "EndOfMedia"
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("capture: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Source decodes one camera's video into a Frame sequence.
type Source struct {
	camera    model.Camera
	cap       *gocv.VideoCapture
	frameIdx  uint64
	nextDeliver time.Time
	fpsLimit  float64
}

// Open connects to (RTSP) or opens (file) the camera's source. Connect
// timeout/read timeout are enforced by the caller via ctx; gocv's
// VideoCapture itself blocks on Open, so ctx cancellation is checked
// around the call rather than inside it.
func Open(ctx context.Context, cam model.Camera) (*Source, error) {
	uri := cam.URI
	var vc *gocv.VideoCapture
	var err error

	done := make(chan struct{})
	go func() {
		switch cam.Source {
		case model.SourceRTSP:
			vc, err = gocv.OpenVideoCapture(uri)
		case model.SourceFile:
			vc, err = gocv.VideoCaptureFile(uri)
		default:
			err = fmt.Errorf("unknown source kind %q", cam.Source)
		}
		close(done)
	}()

	select {
	case <-ctx.Done():
		return nil, &Error{Kind: "ConnectError", Err: ctx.Err()}
	case <-done:
	}

	if err != nil {
		return nil, classifyOpenError(cam, err)
	}
	if vc == nil || !vc.IsOpened() {
		return nil, &Error{Kind: "ConnectError", Err: fmt.Errorf("source did not open")}
	}

	fps := float64(cam.FPSLimit)
	if fps <= 0 {
		fps = 15
	}

	return &Source{camera: cam, cap: vc, fpsLimit: fps}, nil
}

// authFailureMarkers are substrings FFmpeg's RTSP demuxer emits on its
// stderr (surfaced through gocv's error text) when the server rejected
// the connection's credentials rather than refusing or timing out the
// TCP/RTSP handshake itself.
var authFailureMarkers = []string{"401", "403", "unauthorized"}

// unsupportedCodecMarkers are substrings FFmpeg emits when it opened the
// stream but cannot decode the codec it negotiated.
var unsupportedCodecMarkers = []string{"unsupported codec", "decoder not found", "codec not currently supported"}

func classifyOpenError(cam model.Camera, err error) error {
	// gocv/FFmpeg surfaces auth failures and missing codecs as opaque
	// open failures; the 401/403/Unauthorized substring in the
	// underlying FFmpeg stderr (captured by gocv's logging) is the only
	// signal available without a raw socket, so this is a best-effort
	// classification rather than a precise one.
	msg := strings.ToLower(err.Error())
	for _, m := range authFailureMarkers {
		if strings.Contains(msg, strings.ToLower(m)) {
			return &Error{Kind: "AuthError", Err: err}
		}
	}
	for _, m := range unsupportedCodecMarkers {
		if strings.Contains(msg, m) {
			return &Error{Kind: "UnsupportedCodec", Err: err}
		}
	}
	if cam.Source == model.SourceRTSP {
		return &Error{Kind: "ConnectError", Err: err}
	}
	return &Error{Kind: "DecodeError", Err: err}
}

// Run decodes frames until ctx is cancelled or the source ends, pushing
// each delivered frame onto bus. Returns the terminal *Error on exit.
func (s *Source) Run(ctx context.Context, bus *framebus.Bus[model.Frame]) error {
	defer s.cap.Close()

	mat := gocv.NewMat()
	defer mat.Close()

	interval := time.Duration(float64(time.Second) / s.fpsLimit)

	for {
		select {
		case <-ctx.Done():
			return &Error{Kind: "StreamLost", Err: ctx.Err()}
		default:
		}

		if ok := s.cap.Read(&mat); !ok {
			if s.camera.Source == model.SourceFile {
				return &Error{Kind: "EndOfMedia", Err: fmt.Errorf("file source exhausted")}
			}
			return &Error{Kind: "StreamLost", Err: fmt.Errorf("read failed")}
		}
		if mat.Empty() {
			continue
		}

		now := time.Now()
		if now.Before(s.nextDeliver) {
			continue // FPS limiter: drop this frame, it arrived early
		}
		s.nextDeliver = now.Add(interval)

		frame, err := matToFrame(s.camera.ID, s.frameIdx, now, mat)
		if err != nil {
			return &Error{Kind: "DecodeError", Err: err}
		}
		s.frameIdx++

		if err := bus.Push(frame); err != nil {
			return &Error{Kind: "StreamLost", Err: err}
		}
	}
}

func matToFrame(cameraID string, idx uint64, capturedAt time.Time, mat gocv.Mat) (model.Frame, error) {
	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(mat, &rgb, gocv.ColorBGRToRGB)

	buf, err := rgb.DataPtrUint8()
	if err != nil {
		return model.Frame{}, fmt.Errorf("read mat data: %w", err)
	}
	pixels := make([]byte, len(buf))
	copy(pixels, buf)

	size := rgb.Size()
	return model.Frame{
		CameraID:    cameraID,
		Index:       idx,
		CapturedAt:  capturedAt,
		Width:       size[1],
		Height:      size[0],
		PixelFormat: "rgb24",
		Pixels:      pixels,
	}, nil
}

// Bounds is a convenience accessor used by the overlay stage when it
// needs an image.Rectangle for the whole frame.
func Bounds(f model.Frame) image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}
