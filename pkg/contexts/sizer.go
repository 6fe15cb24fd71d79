package contexts

import (
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/pkoukk/tiktoken-go"
)

// Sizer measures message content against a token budget.
type Sizer interface {
	Size(text string) int
}

// SizerFunc adapts a function to Sizer.
type SizerFunc func(text string) int

func (f SizerFunc) Size(text string) int { return f(text) }

// ByteSizer counts bytes.
var ByteSizer Sizer = SizerFunc(func(text string) int { return len(text) })

// HeuristicSizer estimates tokens as roughly four characters each, with
// a minimum of one token for non-empty text.
var HeuristicSizer Sizer = SizerFunc(func(text string) int {
	if text == "" {
		return 0
	}
	n := int(float64(utf8.RuneCountInString(text)) * 0.25)
	if n == 0 {
		n = 1
	}
	return n
})

// TiktokenSizer counts tokens with a BPE encoding.
type TiktokenSizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenSizer loads the named encoding (for example cl100k_base). The
// encoding tables are fetched on first use.
func NewTiktokenSizer(encoding string) (*TiktokenSizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load tiktoken encoding %s", encoding)
	}
	return &TiktokenSizer{enc: enc}, nil
}

func (s *TiktokenSizer) Size(text string) int {
	return len(s.enc.Encode(text, nil, nil))
}

// NewSizer builds a sizer by name: bytes, heuristic or tiktoken.
func NewSizer(name string) (Sizer, error) {
	switch strings.ToLower(name) {
	case "", "bytes":
		return ByteSizer, nil
	case "heuristic", "tokens":
		return HeuristicSizer, nil
	case "tiktoken":
		return NewTiktokenSizer("cl100k_base")
	default:
		return nil, errors.Errorf("unknown sizer %q", name)
	}
}
