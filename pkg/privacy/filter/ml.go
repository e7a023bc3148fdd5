package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/llm2slm/llm2slm/pkg/domain"
	"github.com/llm2slm/llm2slm/pkg/privacy/onnx"
)

const defaultSequenceLength = 256

// MLClassifier is the ONNX-backed multi-label toxicity classifier. Logits
// pass through a sigmoid and output keys are restricted to the defined
// category set. Construction fails with domain.ErrDependencyUnavailable when
// the runtime probe is negative.
type MLClassifier struct {
	session   *ort.AdvancedSession
	tokenizer *onnx.WordPieceTokenizer
	labels    []Category
	seqLen    int

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	output        *ort.Tensor[float32]

	mu sync.Mutex
}

// MLClassifierOptions tune model loading.
type MLClassifierOptions struct {
	// ModelName selects the bundled classifier variant; empty selects
	// "original".
	ModelName string
	// SequenceLength bounds the encoded input; zero selects the default.
	SequenceLength int
}

// NewMLClassifier loads the classifier bundle (<model>.onnx,
// <model>_labels.json, tokenizer/vocab.txt) from the probed bundle
// directory.
func NewMLClassifier(av onnx.Availability, opts MLClassifierOptions) (*MLClassifier, error) {
	if !av.OK {
		return nil, fmt.Errorf("content classifier: %w: %s", domain.ErrDependencyUnavailable, av.Reason)
	}
	if err := onnx.Initialize(av); err != nil {
		return nil, fmt.Errorf("content classifier: %w: %v", domain.ErrDependencyUnavailable, err)
	}

	modelName := strings.TrimSpace(opts.ModelName)
	if modelName == "" {
		modelName = "original"
	}
	seqLen := opts.SequenceLength
	if seqLen <= 0 {
		seqLen = defaultSequenceLength
	}

	modelPath := filepath.Join(av.BundleDir, modelName+".onnx")
	labelsPath := filepath.Join(av.BundleDir, modelName+"_labels.json")
	vocabPath := filepath.Join(av.BundleDir, "tokenizer", "vocab.txt")

	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("content classifier: %w: model file missing at %s", domain.ErrDependencyUnavailable, modelPath)
	}

	labels, err := loadCategoryLabels(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("content classifier: load labels: %w", err)
	}

	tokenizer, err := onnx.LoadWordPieceTokenizer(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("content classifier: load tokenizer: %w", err)
	}

	inputShape := ort.NewShape(1, int64(seqLen))
	inputIDs, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("content classifier: allocate input_ids tensor: %w", err)
	}
	attnMask, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("content classifier: allocate attention_mask tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(labels))))
	if err != nil {
		return nil, fmt.Errorf("content classifier: allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		[]ort.Value{inputIDs, attnMask},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("content classifier: create onnx session: %w", err)
	}

	return &MLClassifier{
		session:       session,
		tokenizer:     tokenizer,
		labels:        labels,
		seqLen:        seqLen,
		inputIDs:      inputIDs,
		attentionMask: attnMask,
		output:        output,
	}, nil
}

// Analyze runs inference and returns sigmoid scores for the defined
// categories present in the model's label set. Empty input yields an empty
// map without touching the session.
func (c *MLClassifier) Analyze(ctx context.Context, text string) (map[Category]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return map[Category]float64{}, nil
	}

	ids, attn := c.tokenizer.Encode(text, c.seqLen)

	c.mu.Lock()
	defer c.mu.Unlock()

	copy(c.inputIDs.GetData(), ids)
	copy(c.attentionMask.GetData(), attn)

	if err := c.session.Run(); err != nil {
		return nil, &domain.BackendError{Backend: "content classifier", Err: fmt.Errorf("onnx run: %w", err)}
	}

	raw := c.output.GetData()
	scores := make(map[Category]float64, len(c.labels))
	for i, logit := range raw {
		if i >= len(c.labels) {
			break
		}
		cat := c.labels[i]
		if cat == CategoryUnknown {
			continue
		}
		scores[cat] = 1.0 / (1.0 + math.Exp(-float64(logit)))
	}
	return scores, nil
}

// loadCategoryLabels reads the model's label array and normalizes each entry
// to the defined category set; labels outside it map to CategoryUnknown and
// are skipped at scoring time.
func loadCategoryLabels(path string) ([]Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("label file at %s is empty", path)
	}

	labels := make([]Category, len(names))
	for i, name := range names {
		cat, err := ParseCategory(name)
		if err != nil {
			labels[i] = CategoryUnknown
			continue
		}
		labels[i] = cat
	}
	return labels, nil
}
