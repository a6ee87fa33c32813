package recognition

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"command-center-vms-cctv/be/model"
)

// Detector wraps a Haar-cascade face detector with a CLAHE contrast
// normalization pass, the same preprocessing shape used for the
// bounding-box detector elsewhere in this codebase's ancestry: convert
// to grayscale, equalize local contrast, downscale for a faster first
// pass, then rescale detected boxes back to full resolution.
//
// gocv's CascadeClassifier.DetectMultiScaleWithParams (confirmed at
// n0remac-robot-webrtc's cvpipe/pipeline.go) returns only the detected
// rectangles — no per-rectangle confidence score. detConfMin is instead
// mapped onto minNeighbors, OpenCV's own detection-strictness knob: a
// higher confMin demands more neighbor merges before a region counts as
// a face.
type Detector struct {
	classifier   gocv.CascadeClassifier
	clahe        gocv.CLAHE
	scaleDown    float64
	confMin      float64
	minNeighbors int
}

func NewDetector(cascadePath string, detConfMin float64) (*Detector, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cascadePath) {
		classifier.Close()
		return nil, fmt.Errorf("recognition: failed to load cascade %q", cascadePath)
	}
	return &Detector{
		classifier:   classifier,
		clahe:        gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8)),
		scaleDown:    0.5,
		confMin:      detConfMin,
		minNeighbors: minNeighborsFor(detConfMin),
	}, nil
}

// minNeighborsFor maps a [0,1] confidence floor onto OpenCV's integer
// minNeighbors parameter: 3 at confMin=0 (permissive) up to 10 at
// confMin=1 (strict).
func minNeighborsFor(confMin float64) int {
	if confMin < 0 {
		confMin = 0
	}
	if confMin > 1 {
		confMin = 1
	}
	return 3 + int(confMin*7)
}

func (d *Detector) Close() {
	d.classifier.Close()
	d.clahe.Close()
}

// Detect returns face bounding boxes in full-resolution frame
// coordinates (SPEC_FULL.md 4.3 step 1). Every returned detection
// already satisfies confMin by construction: minNeighbors is derived
// from confMin in NewDetector, so there is no separate per-box
// confidence to filter on.
func (d *Detector) Detect(frame model.Frame) ([]model.FaceDetection, error) {
	mat, err := frameToMat(frame)
	if err != nil {
		return nil, fmt.Errorf("recognition: detect: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorRGBToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(3, 3), 0, 0, gocv.BorderDefault)

	normalized := gocv.NewMat()
	defer normalized.Close()
	d.clahe.Apply(blurred, &normalized)

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(normalized, &small, image.Point{}, d.scaleDown, d.scaleDown, gocv.InterpolationLinear)

	rects := d.classifier.DetectMultiScaleWithParams(
		small, 1.1, d.minNeighbors, 0, image.Pt(30, 30), image.Pt(0, 0),
	)

	out := make([]model.FaceDetection, 0, len(rects))
	for _, r := range rects {
		full := rescale(r, d.scaleDown)
		out = append(out, model.FaceDetection{
			Box:        model.Box{X: full.Min.X, Y: full.Min.Y, W: full.Dx(), H: full.Dy()},
			Confidence: d.confMin,
		})
	}
	return out, nil
}

func rescale(r image.Rectangle, scale float64) image.Rectangle {
	inv := 1.0 / scale
	return image.Rect(
		int(float64(r.Min.X)*inv),
		int(float64(r.Min.Y)*inv),
		int(float64(r.Max.X)*inv),
		int(float64(r.Max.Y)*inv),
	)
}

func frameToMat(frame model.Frame) (gocv.Mat, error) {
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pixels)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("frame to mat: %w", err)
	}
	return mat, nil
}
