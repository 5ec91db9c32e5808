package vision

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

// Embedder produces the anonymized face vectors the matcher works on,
// using an ArcFace ONNX model. RGB pixels go in, a unit-length embedding
// comes out; nothing else about the face is retained.
type Embedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
	embDim       int
}

// NewEmbedder loads the ArcFace ONNX model for face embedding extraction.
func NewEmbedder(modelPath string) (*Embedder, error) {
	// ArcFace w600k_r50 expects 112x112 input
	inputW, inputH := 112, 112
	embDim := 512

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(embDim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		[]string{"683"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
		embDim:       embDim,
	}, nil
}

// Extract runs embedding extraction on a preprocessed face crop
// (CHW [3, 112, 112], normalized) and returns a unit-length vector.
func (e *Embedder) Extract(faceData []float32) ([]float32, error) {
	inputSlice := e.inputTensor.GetData()
	copy(inputSlice, faceData)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	embedding := make([]float32, e.embDim)
	copy(embedding, e.outputTensor.GetData())

	normalize(embedding)

	return embedding, nil
}

// EmbeddingDim returns the embedding vector dimension.
func (e *Embedder) EmbeddingDim() int {
	return e.embDim
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

// normalize performs L2 normalization in-place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
