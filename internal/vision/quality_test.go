package vision

import "testing"

func det(x1, y1, x2, y2, conf float32) Detection {
	return Detection{BBox: [4]float32{x1, y1, x2, y2}, Confidence: conf}
}

func TestScoreQuality(t *testing.T) {
	// Large, confident, centered face should score near the top.
	high := ScoreQuality(det(444, 244, 836, 636, 0.99), 1280, 880)
	if high < 0.9 {
		t.Errorf("centered 392px face scored %.2f, want >= 0.9", high)
	}

	// A face below the minimum side loses the whole resolution share.
	small := ScoreQuality(det(600, 400, 630, 430, 0.99), 1280, 880)
	if small >= high {
		t.Errorf("30px face scored %.2f, want below %.2f", small, high)
	}
	if small > confidenceShare+centeringShare+0.01 {
		t.Errorf("30px face scored %.2f, want resolution share zeroed", small)
	}

	// Clipped at the frame edge loses the centering share.
	clipped := ScoreQuality(det(0, 244, 392, 636, 0.99), 1280, 880)
	if clipped >= high {
		t.Errorf("edge-clipped face scored %.2f, want below %.2f", clipped, high)
	}

	// Degenerate boxes score zero.
	if got := ScoreQuality(det(100, 100, 100, 200, 0.9), 640, 480); got != 0 {
		t.Errorf("zero-width box scored %.2f, want 0", got)
	}
	if got := ScoreQuality(det(10, 10, 200, 200, 0.9), 0, 0); got != 0 {
		t.Errorf("empty frame scored %.2f, want 0", got)
	}
}

func TestScoreQualityOrdersByConfidence(t *testing.T) {
	strong := ScoreQuality(det(400, 300, 600, 500, 0.95), 1000, 800)
	weak := ScoreQuality(det(400, 300, 600, 500, 0.55), 1000, 800)
	if weak >= strong {
		t.Errorf("confidence 0.55 scored %.2f, not below 0.95's %.2f", weak, strong)
	}
}

func TestFrontal(t *testing.T) {
	frontal := [5][2]float32{
		{100, 100}, // left eye
		{180, 102}, // right eye
		{140, 140}, // nose centered between the eyes
		{110, 180},
		{170, 180},
	}
	if !Frontal(frontal) {
		t.Error("level, centered landmarks reported as non-frontal")
	}

	// Nose hugging the left eye: strong yaw.
	yawed := frontal
	yawed[2] = [2]float32{104, 140}
	if Frontal(yawed) {
		t.Error("yawed landmarks reported as frontal")
	}

	// Eyes at a steep angle: strong roll.
	rolled := frontal
	rolled[1] = [2]float32{180, 130}
	if Frontal(rolled) {
		t.Error("rolled landmarks reported as frontal")
	}

	// Swapped eyes (negative span) means a profile view.
	swapped := frontal
	swapped[0], swapped[1] = swapped[1], swapped[0]
	if Frontal(swapped) {
		t.Error("swapped-eye landmarks reported as frontal")
	}
}
