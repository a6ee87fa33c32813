package recognition

import (
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"command-center-vms-cctv/be/model"
)

// Embedder runs a 512-d face-embedding ONNX model via onnxruntime_go.
// One Embedder instance owns one onnxruntime session and its input and
// output tensors; Embed serializes access to them with a mutex, since
// onnxruntime sessions are not safe for unsynchronized concurrent Run
// calls on every build.
type Embedder struct {
	mu       sync.Mutex
	session  *onnxruntime_go.AdvancedSession
	input    *onnxruntime_go.Tensor[float32]
	output   *onnxruntime_go.Tensor[float32]
	inputDim int
}

const embeddingSize = 512
const modelInputSide = 112 // standard ArcFace-style input resolution

func NewEmbedder(modelPath string) (*Embedder, error) {
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("recognition: onnxruntime init: %w", err)
	}

	inputShape := onnxruntime_go.NewShape(1, 3, modelInputSide, modelInputSide)
	input, err := onnxruntime_go.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("recognition: alloc input tensor: %w", err)
	}

	outputShape := onnxruntime_go.NewShape(1, embeddingSize)
	output, err := onnxruntime_go.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("recognition: alloc output tensor: %w", err)
	}

	session, err := onnxruntime_go.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"embedding"},
		[]onnxruntime_go.ArbitraryTensor{input}, []onnxruntime_go.ArbitraryTensor{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("recognition: load model %q: %w", modelPath, err)
	}

	return &Embedder{session: session, input: input, output: output, inputDim: modelInputSide}, nil
}

func (e *Embedder) Close() {
	e.session.Destroy()
	e.input.Destroy()
	e.output.Destroy()
	_ = onnxruntime_go.DestroyEnvironment()
}

// Embed crops the face box from frame, resizes to the model's input
// resolution, and returns the L2-normalized 512-d embedding.
func (e *Embedder) Embed(frame model.Frame, box model.Box) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	mat, err := frameToMat(frame)
	if err != nil {
		return nil, fmt.Errorf("recognition: embed: %w", err)
	}
	defer mat.Close()

	region := clampBox(box, frame.Width, frame.Height)
	cropped := mat.Region(region)
	defer cropped.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(cropped, &resized, image.Pt(e.inputDim, e.inputDim), 0, 0, gocv.InterpolationLinear)

	if err := chwNormalize(resized, e.input.GetData()); err != nil {
		return nil, fmt.Errorf("recognition: preprocess: %w", err)
	}

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("recognition: onnxruntime run: %w", err)
	}

	raw := e.output.GetData()
	out := make([]float32, len(raw))
	copy(out, raw)
	l2Normalize(out)
	return out, nil
}

func clampBox(b model.Box, w, h int) image.Rectangle {
	x0 := clampInt(b.X, 0, w)
	y0 := clampInt(b.Y, 0, h)
	x1 := clampInt(b.X+b.W, 0, w)
	y1 := clampInt(b.Y+b.H, 0, h)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return image.Rect(x0, y0, x1, y1)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// chwNormalize writes resized's pixels into dst in CHW order, scaled to
// [-1, 1], the preprocessing convention most ONNX face-embedding models
// expect.
func chwNormalize(mat gocv.Mat, dst []float32) error {
	data, err := mat.DataPtrUint8()
	if err != nil {
		return err
	}
	size := mat.Size()
	h, w := size[0], size[1]
	channels := 3
	for c := 0; c < channels; c++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				srcIdx := (y*w+x)*channels + c
				dstIdx := c*h*w + y*w + x
				if srcIdx < len(data) && dstIdx < len(dst) {
					dst[dstIdx] = (float32(data[srcIdx])/255.0 - 0.5) * 2.0
				}
			}
		}
	}
	return nil
}

func l2Normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
