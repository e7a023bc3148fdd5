package onnx

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// WordPieceTokenizer is a minimal WordPiece encoder with byte-offset
// tracking, sufficient for the bundled token-classification and multi-label
// models. It is read-only after construction and safe for concurrent use.
type WordPieceTokenizer struct {
	vocab        map[string]int64
	continuation string
	lowerCase    bool
	clsID        int64
	sepID        int64
	padID        int64
	unkID        int64
}

// TokenOffset is the byte range a token covers in the original text.
// Special and padding positions carry {-1,-1}.
type TokenOffset struct {
	Start int
	End   int
}

type wordSpan struct {
	text  string
	start int
	end   int
}

// LoadWordPieceTokenizer reads a newline-delimited vocab.txt where line
// number equals token ID.
func LoadWordPieceTokenizer(path string) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var id int64
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r\n")
		if token != "" {
			vocab[token] = id
		}
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocab at %s is empty", path)
	}

	t := &WordPieceTokenizer{
		vocab:        vocab,
		continuation: "##",
		lowerCase:    true,
	}
	t.clsID = specialID(vocab, "[CLS]")
	t.sepID = specialID(vocab, "[SEP]")
	t.padID = specialID(vocab, "[PAD]")
	t.unkID = specialID(vocab, "[UNK]")
	return t, nil
}

func specialID(vocab map[string]int64, token string) int64 {
	if id, ok := vocab[token]; ok {
		return id
	}
	return 0
}

// Encode converts text into token IDs and an attention mask of length
// seqLen.
func (t *WordPieceTokenizer) Encode(text string, seqLen int) ([]int64, []int64) {
	ids, attn, _ := t.EncodeWithOffsets(text, seqLen)
	return ids, attn
}

// EncodeWithOffsets converts text into token IDs, an attention mask, and the
// byte range each token covers in the original text.
func (t *WordPieceTokenizer) EncodeWithOffsets(text string, seqLen int) ([]int64, []int64, []TokenOffset) {
	if seqLen <= 0 {
		return nil, nil, nil
	}

	words := splitWordsWithOffsets(text)
	tokens := []int64{t.clsID}
	offsets := []TokenOffset{{Start: -1, End: -1}}

	for _, w := range words {
		for _, p := range t.wordPiece(w.text) {
			end := w.start + p.end
			if end > len(text) {
				end = len(text)
			}
			tokens = append(tokens, p.id)
			offsets = append(offsets, TokenOffset{Start: w.start + p.start, End: end})
			if len(tokens) >= seqLen-1 {
				break
			}
		}
		if len(tokens) >= seqLen-1 {
			break
		}
	}

	tokens = append(tokens, t.sepID)
	offsets = append(offsets, TokenOffset{Start: -1, End: -1})

	attn := make([]int64, seqLen)
	for i := 0; i < len(tokens) && i < seqLen; i++ {
		attn[i] = 1
	}
	for len(tokens) < seqLen {
		tokens = append(tokens, t.padID)
		offsets = append(offsets, TokenOffset{Start: -1, End: -1})
	}

	return tokens[:seqLen], attn, offsets[:seqLen]
}

type wordPiece struct {
	id    int64
	start int
	end   int
}

func (t *WordPieceTokenizer) lookup(token string) (int64, bool) {
	if t.lowerCase {
		token = strings.ToLower(token)
	}
	id, ok := t.vocab[token]
	return id, ok
}

// wordPiece greedily segments one whitespace-delimited token into the
// longest matching vocabulary pieces, falling back to [UNK] for the whole
// token when no segmentation exists. Segmentation walks the original bytes
// and only case-folds the candidate for the vocabulary lookup, so piece
// boundaries stay valid offsets into the source text even when lowercasing
// changes a rune's byte length.
func (t *WordPieceTokenizer) wordPiece(token string) []wordPiece {
	if id, ok := t.lookup(token); ok {
		return []wordPiece{{id: id, start: 0, end: len(token)}}
	}

	var pieces []wordPiece
	start := 0
	for start < len(token) {
		end := len(token)
		matched := false
		for end > start {
			sub := token[start:end]
			if t.lowerCase {
				sub = strings.ToLower(sub)
			}
			if start > 0 {
				sub = t.continuation + sub
			}
			if id, ok := t.vocab[sub]; ok {
				pieces = append(pieces, wordPiece{id: id, start: start, end: end})
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			return []wordPiece{{id: t.unkID, start: 0, end: len(token)}}
		}
	}
	if len(pieces) == 0 {
		return []wordPiece{{id: t.unkID, start: 0, end: len(token)}}
	}
	return pieces
}

func splitWordsWithOffsets(text string) []wordSpan {
	if text == "" {
		return nil
	}
	var spans []wordSpan
	start := -1
	for idx, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, wordSpan{text: text[start:idx], start: start, end: idx})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = idx
		}
	}
	if start >= 0 {
		spans = append(spans, wordSpan{text: text[start:], start: start, end: len(text)})
	}
	return spans
}
