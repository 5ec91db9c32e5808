package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/your-org/admatch/internal/apperr"
	"github.com/your-org/admatch/internal/config"
	"github.com/your-org/admatch/internal/observability"
)

// Face is one successful extraction. The crop is a JPEG of the padded face
// region, kept only when the face is enrolled.
type Face struct {
	Embedding []float32
	Quality   float32
	Crop      []byte
	BBox      [4]float32
}

// Extractor turns an image into an anonymized face embedding. It is a sealed
// step: callers see an embedding or a coded rejection, never model internals.
type Extractor struct {
	mu           sync.Mutex // sessions hold fixed tensors, one run at a time
	detector     *Detector
	embedder     *Embedder
	qualityFloor float32
}

// NewExtractor loads the detection and embedding models from cfg.ModelsDir.
func NewExtractor(cfg config.VisionConfig, qualityFloor float64) (*Extractor, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	slog.Info("extractor ready")

	return &Extractor{
		detector:     det,
		embedder:     emb,
		qualityFloor: float32(qualityFloor),
	}, nil
}

// Extract processes a capture image. Rejections carry their code:
// INVALID_IMAGE, FACE_NOT_DETECTED or LOW_QUALITY.
func (e *Extractor) Extract(imageData []byte) (*Face, error) {
	return e.extract(imageData, false)
}

// ExtractStrict additionally gates on head pose, for enrollment photos where
// a frontal face is required. Adds INVALID_FACE_ANGLE to the rejections.
func (e *Extractor) ExtractStrict(imageData []byte) (*Face, error) {
	return e.extract(imageData, true)
}

func (e *Extractor) extract(imageData []byte, strict bool) (*Face, error) {
	img, err := decodeImage(imageData)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidImage, err)
	}

	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	detInput := preprocessForDetection(img, e.detector.inputW, e.detector.inputH)
	detections, err := e.detector.Detect(detInput, origW, origH)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	observability.MatchDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	if len(detections) == 0 {
		return nil, apperr.New(apperr.CodeFaceNotDetected)
	}

	best := detections[0]
	for _, d := range detections[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}

	quality := ScoreQuality(best, origW, origH)
	if quality < e.qualityFloor {
		return nil, apperr.Newf(apperr.CodeLowQuality, "face quality %.2f below floor %.2f", quality, e.qualityFloor)
	}
	if strict && !Frontal(best.Landmarks) {
		return nil, apperr.New(apperr.CodeInvalidFaceAngle)
	}

	faceCrop := cropFace(img, best.BBox)
	if faceCrop == nil {
		return nil, apperr.New(apperr.CodeFaceNotDetected)
	}

	start = time.Now()
	embInput := preprocessForEmbedding(faceCrop, e.embedder.inputW, e.embedder.inputH)
	embedding, err := e.embedder.Extract(embInput)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	observability.MatchDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

	return &Face{
		Embedding: embedding,
		Quality:   quality,
		Crop:      encodeJPEG(faceCrop, 85),
		BBox:      best.BBox,
	}, nil
}

// EmbeddingDim reports the extractor's output dimension.
func (e *Extractor) EmbeddingDim() int {
	return e.embedder.EmbeddingDim()
}

// Close releases the ONNX sessions.
func (e *Extractor) Close() {
	if e.detector != nil {
		e.detector.Close()
	}
	if e.embedder != nil {
		e.embedder.Close()
	}
}

func decodeImage(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}
	img, _, err = image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// --- Image preprocessing helpers ---

func preprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

func preprocessForEmbedding(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToFloat32CHW converts an image to CHW float32 format with normalization:
//
//	pixel = (pixel - mean) / std
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			// Convert from 16-bit to 8-bit
			rf := float32(r >> 8)
			gf := float32(g >> 8)
			bf := float32(b >> 8)

			// CHW layout: [C][H][W]
			idx := y*w + x
			data[0*h*w+idx] = (rf - mean[0]) / std[0] // R
			data[1*h*w+idx] = (gf - mean[1]) / std[1] // G
			data[2*h*w+idx] = (bf - mean[2]) / std[2] // B
		}
	}

	return data
}

// resizeImage performs nearest-neighbour resize (fast, good enough for ML input).
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))

	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			srcY := bounds.Min.Y + y*srcH/targetH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}

	return dst
}

// cropFace extracts a face region from the image given a bounding box.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	x1 := int(bbox[0])
	y1 := int(bbox[1])
	x2 := int(bbox[2])
	y2 := int(bbox[3])

	// Clamp to image bounds
	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}

	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return nil
	}

	// Add padding (10% each side)
	padW := int(float32(w) * 0.1)
	padH := int(float32(h) * 0.1)
	x1 -= padW
	y1 -= padH
	x2 += padW
	y2 += padH

	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for cy := y1; cy < y2; cy++ {
		for cx := x1; cx < x2; cx++ {
			crop.Set(cx-x1, cy-y1, img.At(cx, cy))
		}
	}

	return crop
}

// encodeJPEG encodes an image as JPEG with the given quality.
func encodeJPEG(img image.Image, quality int) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	return buf.Bytes()
}
