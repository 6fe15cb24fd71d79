package parser

import (
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	meta "github.com/yuin/goldmark-meta"
	gparser "github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// fence is a fenced code block located on physical lines start..end
// (inclusive, fence lines included).
type fence struct {
	start    int
	end      int
	language string
	content  string
	closed   bool
}

// locateFences runs the CommonMark parser over the document and maps every
// fenced code block back onto physical line numbers. The returned parser
// context carries the decoded front matter when withMeta is set.
func locateFences(src []byte, lines []string, withMeta bool) ([]fence, gparser.Context) {
	md := goldmark.New()
	if withMeta {
		md = goldmark.New(goldmark.WithExtensions(meta.Meta))
	}
	pc := gparser.NewContext()
	doc := md.Parser().Parse(text.NewReader(src), gparser.WithContext(pc))

	starts := lineStarts(src, len(lines))
	var (
		fences []fence
		cursor int
	)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fcb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		segs := fcb.Lines()
		open := -1
		switch {
		case fcb.Info != nil:
			open = lineOf(starts, fcb.Info.Segment.Start)
		case segs.Len() > 0:
			open = lineOf(starts, segs.At(0).Start) - 1
		default:
			for i := cursor; i < len(lines); i++ {
				if _, _, ok := fenceMarker(lines[i]); ok {
					open = i
					break
				}
			}
		}
		if open < 0 || open >= len(lines) {
			return ast.WalkSkipChildren, nil
		}

		last := open
		var content strings.Builder
		for i := 0; i < segs.Len(); i++ {
			seg := segs.At(i)
			content.Write(seg.Value(src))
			last = lineOf(starts, seg.Start)
		}

		f := fence{
			start:    open,
			end:      last,
			language: string(fcb.Language(src)),
			content:  strings.ReplaceAll(content.String(), "\r\n", "\n"),
		}
		if ch, size, ok := fenceMarker(lines[open]); ok && last+1 < len(lines) && isClosingFence(lines[last+1], ch, size) {
			f.end = last + 1
			f.closed = true
		}
		fences = append(fences, f)
		cursor = f.end + 1
		return ast.WalkSkipChildren, nil
	})
	return fences, pc
}

func lineStarts(src []byte, n int) []int {
	starts := make([]int, 0, n)
	starts = append(starts, 0)
	for i, c := range src {
		if c == '\n' && len(starts) < n {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func lineOf(starts []int, offset int) int {
	return sort.Search(len(starts), func(i int) bool { return starts[i] > offset }) - 1
}

// fenceMarker finds the first run of three or more backticks or tildes on
// the line and returns the fence character and run length.
func fenceMarker(line string) (byte, int, bool) {
	idx := strings.IndexAny(line, "`~")
	if idx < 0 {
		return 0, 0, false
	}
	prefix := strings.TrimLeft(line[:idx], " \t>-*+0123456789.)")
	if prefix != "" {
		return 0, 0, false
	}
	ch := line[idx]
	n := 0
	for idx+n < len(line) && line[idx+n] == ch {
		n++
	}
	if n < 3 {
		return 0, 0, false
	}
	return ch, n, true
}

func isClosingFence(line string, ch byte, size int) bool {
	t := strings.TrimSpace(strings.TrimLeft(line, " \t>"))
	n := 0
	for n < len(t) && t[n] == ch {
		n++
	}
	return n >= size && strings.TrimSpace(t[n:]) == ""
}
