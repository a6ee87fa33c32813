package recognition

import (
	"gocv.io/x/gocv"

	"command-center-vms-cctv/be/model"
)

// Quality combines face area ratio, a sharpness proxy (variance of
// Laplacian), brightness band, and pose angle into a single score in
// [0,1], monotonic in all four axes per SPEC_FULL.md 4.3.
func Quality(frame model.Frame, box model.Box, det model.FaceDetection) (float64, error) {
	mat, err := frameToMat(frame)
	if err != nil {
		return 0, err
	}
	defer mat.Close()

	region := clampBox(box, frame.Width, frame.Height)
	crop := mat.Region(region)
	defer crop.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(crop, &gray, gocv.ColorRGBToGray)

	areaScore := areaRatioScore(box, frame.Width, frame.Height)
	sharpScore := sharpnessScore(gray)
	brightScore := brightnessScore(gray)
	poseScore := poseScore(det)

	// Equal-weighted average; each term independently monotonic in the
	// axis it measures, so the combination is monotonic in all four.
	return (areaScore + sharpScore + brightScore + poseScore) / 4.0, nil
}

func areaRatioScore(box model.Box, frameW, frameH int) float64 {
	frameArea := float64(frameW * frameH)
	if frameArea <= 0 {
		return 0
	}
	faceArea := float64(box.W * box.H)
	ratio := faceArea / frameArea
	// Saturate at a 15% frame-area face, a reasonably close headshot.
	score := ratio / 0.15
	return clampUnit(score)
}

func sharpnessScore(gray gocv.Mat) float64 {
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	stddev := gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(lap, &mean, &stddev)

	sd := stddev.GetDoubleAt(0, 0)
	variance := sd * sd
	// Empirically, a sharp 112px face crop lands well above variance
	// 100; a blurred one well below 20.
	return clampUnit(variance / 150.0)
}

func brightnessScore(gray gocv.Mat) float64 {
	mean := gray.Mean()
	b := mean.Val1
	// Ideal band is roughly [80, 180] on a 0-255 scale; score falls off
	// linearly outside it.
	if b >= 80 && b <= 180 {
		return 1.0
	}
	if b < 80 {
		return clampUnit(b / 80.0)
	}
	return clampUnit((255.0 - b) / (255.0 - 180.0))
}

func poseScore(det model.FaceDetection) float64 {
	absYaw := abs(det.PoseYaw)
	absPitch := abs(det.PosePitch)
	worst := absYaw
	if absPitch > worst {
		worst = absPitch
	}
	// Full score at 0 degrees, zero score at 45+ degrees off-axis.
	return clampUnit(1.0 - worst/45.0)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
