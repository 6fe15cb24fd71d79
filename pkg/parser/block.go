// Package parser turns a playbook document (Markdown interleaved with
// @annotations and fenced code blocks) into an ordered list of blocks.
// Parsing is pure and total: malformed input never panics, it produces
// ParseErrors alongside whatever blocks could be recovered.
package parser

import "fmt"

// Kind identifies the structural kind of a block.
type Kind int

const (
	KindText Kind = iota
	KindAnnotation
	KindCodeBlock
	KindComment
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAnnotation:
		return "annotation"
	case KindCodeBlock:
		return "code_block"
	case KindComment:
		return "comment"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Range is a span on a single line. Lines and characters are 0-based and
// characters are counted in runes. EndChar is exclusive.
type Range struct {
	Line      int `json:"line"`
	StartChar int `json:"start_char"`
	EndChar   int `json:"end_char"`
}

// Flag is one `--key value` pair of an annotation, in source order.
type Flag struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	Quoted     bool   `json:"quoted,omitempty"`
	Valueless  bool   `json:"valueless,omitempty"`
	KeyRange   Range  `json:"key_range"`
	ValueRange Range  `json:"value_range"`
}

// Range covers the flag from its leading dashes to the end of its value.
func (f Flag) Range() Range {
	if f.Valueless {
		return f.KeyRange
	}
	return Range{Line: f.KeyRange.Line, StartChar: f.KeyRange.StartChar, EndChar: f.ValueRange.EndChar}
}

// Block is one structural element of a document.
type Block struct {
	Kind      Kind   `json:"kind"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Raw       string `json:"raw"`

	// Annotation fields.
	Name      string  `json:"name,omitempty"`
	NameRange Range   `json:"name_range"`
	Flags     []Flag  `json:"flags,omitempty"`
	Variable  string  `json:"variable,omitempty"`
	Code      *Block  `json:"code,omitempty"`
	Lines     []Range `json:"lines,omitempty"`

	// Code block fields.
	Language string `json:"language,omitempty"`
	Content  string `json:"content,omitempty"`
	Attached bool   `json:"attached,omitempty"`
}

// Flag returns the value of the last flag named key.
func (b *Block) Flag(key string) (string, bool) {
	for i := len(b.Flags) - 1; i >= 0; i-- {
		if b.Flags[i].Key == key {
			return b.Flags[i].Value, true
		}
	}
	return "", false
}

// FlagMap returns the flags as a map; later duplicates win.
func (b *Block) FlagMap() map[string]string {
	m := make(map[string]string, len(b.Flags))
	for _, f := range b.Flags {
		m[f.Key] = f.Value
	}
	return m
}

// Executable reports whether the engine dispatches this block to a skill.
func (b *Block) Executable() bool {
	return b.Kind == KindAnnotation
}

// ParseError is a structural problem located on exactly one line.
type ParseError struct {
	Message   string `json:"message"`
	StartLine int    `json:"start_line"`
	StartChar int    `json:"start_char"`
	EndLine   int    `json:"end_line"`
	EndChar   int    `json:"end_char"`
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.StartLine+1, e.StartChar+1, e.Message)
}

func newError(r Range, format string, args ...any) ParseError {
	return ParseError{
		Message:   fmt.Sprintf(format, args...),
		StartLine: r.Line,
		StartChar: r.StartChar,
		EndLine:   r.Line,
		EndChar:   r.EndChar,
	}
}

// Result is the outcome of parsing one document.
type Result struct {
	Blocks      []*Block     `json:"blocks"`
	Errors      []ParseError `json:"errors"`
	FrontMatter FrontMatter  `json:"front_matter"`

	frontMatter string
}

// HasBlockingErrors reports whether execution must not start.
func (r *Result) HasBlockingErrors() bool {
	return len(r.Errors) > 0
}

// Executable returns the annotation blocks in document order.
func (r *Result) Executable() []*Block {
	var out []*Block
	for _, b := range r.Blocks {
		if b.Executable() {
			out = append(out, b)
		}
	}
	return out
}
