package vision

import "math"

// Quality scoring weights. Resolution dominates: a tiny face produces a
// noisy embedding no matter how confident the detector was.
const (
	minFaceSide     = 40.0  // pixels; below this quality bottoms out
	goodFaceSide    = 112.0 // embedder input size; at or above this, full marks
	resolutionShare = 0.5
	confidenceShare = 0.35
	centeringShare  = 0.15
)

// ScoreQuality rates a detection in [0,1] from face resolution, detector
// confidence and how far the face sits from the frame edge. The matcher's
// quality floor gates on this score.
func ScoreQuality(d Detection, imgW, imgH int) float32 {
	w := float64(d.BBox[2] - d.BBox[0])
	h := float64(d.BBox[3] - d.BBox[1])
	if w <= 0 || h <= 0 || imgW <= 0 || imgH <= 0 {
		return 0
	}

	side := math.Min(w, h)
	resolution := (side - minFaceSide) / (goodFaceSide - minFaceSide)
	resolution = clamp01(resolution)

	confidence := clamp01(float64(d.Confidence))

	// Gap between the box and the nearest frame edge, normalized by the
	// face size. A box flush with the edge is likely truncated and embeds
	// poorly.
	gap := math.Min(
		math.Min(float64(d.BBox[0]), float64(imgW)-float64(d.BBox[2])),
		math.Min(float64(d.BBox[1]), float64(imgH)-float64(d.BBox[3])),
	)
	centering := clamp01(gap / (side * 0.25))

	score := resolutionShare*resolution + confidenceShare*confidence + centeringShare*centering
	return float32(clamp01(score))
}

// Frontal reports whether the head pose is close enough to frontal for
// enrollment. Uses landmark geometry only: the nose should sit between the
// eyes horizontally and the eye line should be roughly level.
//
// Landmark order: left eye, right eye, nose, left mouth corner, right mouth
// corner.
func Frontal(lm [5][2]float32) bool {
	leftEye, rightEye, nose := lm[0], lm[1], lm[2]

	eyeSpan := float64(rightEye[0] - leftEye[0])
	if eyeSpan <= 1 {
		// Eyes collapsed or swapped: strong profile view.
		return false
	}

	// Yaw proxy: nose x position within the eye span. 0.5 is dead centre.
	noseRatio := (float64(nose[0]) - float64(leftEye[0])) / eyeSpan
	if noseRatio < 0.25 || noseRatio > 0.75 {
		return false
	}

	// Roll proxy: vertical eye offset relative to the span.
	tilt := math.Abs(float64(rightEye[1]-leftEye[1])) / eyeSpan
	return tilt <= 0.25
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
