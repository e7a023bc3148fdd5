package pii

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

// MLDetector is the ONNX-backed entity recognizer. It runs a
// token-classification model over WordPiece-encoded input and merges BIO
// token labels into character spans. The session and its tensors are reused
// across calls under a mutex; construction fails with
// domain.ErrDependencyUnavailable when the runtime probe is negative.
type MLDetector struct {
	cfg       AnonymizationConfig
	session   *ort.AdvancedSession
	tokenizer *onnx.WordPieceTokenizer
	labels    []string
	seqLen    int

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	output        *ort.Tensor[float32]

	mu sync.Mutex
}

// MLDetectorOptions tune model loading.
type MLDetectorOptions struct {
	// SequenceLength bounds the encoded input; zero selects the default.
	SequenceLength int
}

// NewMLDetector loads the NER bundle (ner.onnx, ner_labels.json,
// tokenizer/vocab.txt) from the probed bundle directory.
func NewMLDetector(cfg AnonymizationConfig, av onnx.Availability, opts MLDetectorOptions) (*MLDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !av.OK {
		return nil, fmt.Errorf("pii detector: %w: %s", domain.ErrDependencyUnavailable, av.Reason)
	}
	if err := onnx.Initialize(av); err != nil {
		return nil, fmt.Errorf("pii detector: %w: %v", domain.ErrDependencyUnavailable, err)
	}

	seqLen := opts.SequenceLength
	if seqLen <= 0 {
		seqLen = defaultSequenceLength
	}

	modelPath := filepath.Join(av.BundleDir, "ner.onnx")
	labelsPath := filepath.Join(av.BundleDir, "ner_labels.json")
	vocabPath := filepath.Join(av.BundleDir, "tokenizer", "vocab.txt")

	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("pii detector: %w: model file missing at %s", domain.ErrDependencyUnavailable, modelPath)
	}

	labels, err := loadLabelList(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("pii detector: load labels: %w", err)
	}

	tokenizer, err := onnx.LoadWordPieceTokenizer(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("pii detector: load tokenizer: %w", err)
	}

	inputShape := ort.NewShape(1, int64(seqLen))
	inputIDs, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("pii detector: allocate input_ids tensor: %w", err)
	}
	attnMask, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("pii detector: allocate attention_mask tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(seqLen), int64(len(labels))))
	if err != nil {
		return nil, fmt.Errorf("pii detector: allocate output tensor: %w", err)
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
		return nil, fmt.Errorf("pii detector: create onnx session: %w", err)
	}

	return &MLDetector{
		cfg:           cfg,
		session:       session,
		tokenizer:     tokenizer,
		labels:        labels,
		seqLen:        seqLen,
		inputIDs:      inputIDs,
		attentionMask: attnMask,
		output:        output,
	}, nil
}

// Detect runs inference and returns spans whose entity type is in the
// configured set and whose score meets the configured threshold, ordered by
// start offset.
func (d *MLDetector) Detect(ctx context.Context, text string) ([]Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	ids, attn, offsets := d.tokenizer.EncodeWithOffsets(text, d.seqLen)

	d.mu.Lock()
	copy(d.inputIDs.GetData(), ids)
	copy(d.attentionMask.GetData(), attn)
	if err := d.session.Run(); err != nil {
		d.mu.Unlock()
		return nil, &domain.BackendError{Backend: "pii detector", Err: fmt.Errorf("onnx run: %w", err)}
	}
	raw := make([]float32, len(d.output.GetData()))
	copy(raw, d.output.GetData())
	d.mu.Unlock()

	spans := d.mergeSpans(text, raw, attn, offsets)

	var out []Span
	for _, span := range spans {
		if span.Score < d.cfg.ScoreThreshold {
			continue
		}
		if !d.cfg.wantsEntity(span.EntityType) {
			continue
		}
		out = append(out, span)
	}
	sortSpans(out)
	return out, nil
}

// mergeSpans converts per-token label probabilities into entity spans. A
// B-tag opens a span; I-tags of the same entity extend it; anything else
// closes it. The span score is the mean probability of its tokens.
func (d *MLDetector) mergeSpans(text string, logits []float32, attn []int64, offsets []onnx.TokenOffset) []Span {
	numLabels := len(d.labels)
	if numLabels == 0 {
		return nil
	}

	var spans []Span
	var cur *Span
	var curSum float64
	var curTokens int

	flush := func() {
		if cur == nil {
			return
		}
		cur.Score = curSum / float64(curTokens)
		cur.Text = text[cur.Start:cur.End]
		spans = append(spans, *cur)
		cur, curSum, curTokens = nil, 0, 0
	}

	for i := 0; i < d.seqLen; i++ {
		if attn[i] == 0 || offsets[i].Start < 0 {
			flush()
			continue
		}

		label, prob := argmaxSoftmax(logits[i*numLabels : (i+1)*numLabels])
		tag := d.labels[label]
		if tag == "O" {
			flush()
			continue
		}

		prefix, name, ok := strings.Cut(tag, "-")
		if !ok {
			flush()
			continue
		}
		entity := EntityType(name)

		switch {
		case prefix == "I" && cur != nil && cur.EntityType == entity:
			cur.End = offsets[i].End
			curSum += prob
			curTokens++
		default:
			flush()
			cur = &Span{EntityType: entity, Start: offsets[i].Start, End: offsets[i].End}
			curSum = prob
			curTokens = 1
		}
	}
	flush()

	return spans
}

// argmaxSoftmax returns the index of the largest logit and its softmax
// probability.
func argmaxSoftmax(logits []float32) (int, float64) {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}

	var sum float64
	maxLogit := float64(logits[best])
	for _, v := range logits {
		sum += math.Exp(float64(v) - maxLogit)
	}
	return best, 1.0 / sum
}

// loadLabelList reads either a JSON array of labels or an index-keyed map.
func loadLabelList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 {
		return arr, nil
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	out := make([]string, len(m))
	for k, v := range m {
		var idx int
		if _, err := fmt.Sscanf(k, "%d", &idx); err != nil {
			return nil, fmt.Errorf("invalid label index %q", k)
		}
		if idx < 0 || idx >= len(m) {
			return nil, fmt.Errorf("label index %d out of range", idx)
		}
		out[idx] = v
	}
	return out, nil
}
