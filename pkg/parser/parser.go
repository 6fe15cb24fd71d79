package parser

import (
	"sort"
	"strings"
)

// ExecuteAnnotation is the annotation that consumes the fenced code block
// directly following it.
const ExecuteAnnotation = "execute"

// VariableFlag names the flag that declares an annotation's output variable.
const VariableFlag = "variable"

// Parse splits text into blocks. It never fails: structural problems are
// returned in Result.Errors.
func Parse(text string) *Result {
	p := &parser{
		lines: splitLines(text),
		res:   &Result{Blocks: []*Block{}, Errors: []ParseError{}},
	}
	p.run(text)
	return p.res
}

type parser struct {
	lines []string
	res   *Result
	text  *Block
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func (p *parser) line(i int) string {
	return strings.TrimRight(p.lines[i], "\r")
}

func (p *parser) run(src string) {
	fmEnd := frontMatterEnd(p.lines)
	fences, pc := locateFences([]byte(src), p.lines, fmEnd >= 0)
	if fmEnd >= 0 {
		raw := make([]string, 0, fmEnd+1)
		for i := 0; i <= fmEnd; i++ {
			raw = append(raw, p.line(i))
		}
		p.res.frontMatter = strings.Join(raw, "\n")
		fm, err := decodeFrontMatter(pc)
		if err != nil {
			msg := strings.SplitN(err.Error(), "\n", 2)[0]
			p.res.Errors = append(p.res.Errors, newError(
				Range{Line: 0, StartChar: 0, EndChar: len([]rune(p.line(0)))},
				"invalid front matter: %s", msg))
		} else {
			p.res.FrontMatter = fm
		}
	}

	fenceAt := make(map[int]fence, len(fences))
	for _, f := range fences {
		if f.start > fmEnd {
			fenceAt[f.start] = f
		}
	}

	for i := fmEnd + 1; i < len(p.lines); {
		if f, ok := fenceAt[i]; ok {
			p.flushText()
			p.addCodeBlock(f)
			i = f.end + 1
			continue
		}
		line := p.line(i)
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			p.flushText()
			i++
		case strings.HasPrefix(trimmed, "//"):
			p.flushText()
			p.res.Blocks = append(p.res.Blocks, &Block{
				Kind:      KindComment,
				StartLine: i,
				EndLine:   i,
				Raw:       line,
				Content:   strings.TrimSpace(strings.TrimPrefix(trimmed, "//")),
			})
			i++
		case isAnnotationLine(trimmed):
			p.flushText()
			i = p.annotation(i, fenceAt)
		default:
			if p.text == nil {
				p.text = &Block{Kind: KindText, StartLine: i, EndLine: i, Raw: line}
			} else {
				p.text.EndLine = i
				p.text.Raw += "\n" + line
			}
			i++
		}
	}
	p.flushText()
	p.attachCode()

	sort.SliceStable(p.res.Errors, func(a, b int) bool {
		ea, eb := p.res.Errors[a], p.res.Errors[b]
		if ea.StartLine != eb.StartLine {
			return ea.StartLine < eb.StartLine
		}
		return ea.StartChar < eb.StartChar
	})
}

func (p *parser) flushText() {
	if p.text != nil {
		p.res.Blocks = append(p.res.Blocks, p.text)
		p.text = nil
	}
}

func (p *parser) addCodeBlock(f fence) {
	raw := make([]string, 0, f.end-f.start+1)
	for i := f.start; i <= f.end; i++ {
		raw = append(raw, p.line(i))
	}
	p.res.Blocks = append(p.res.Blocks, &Block{
		Kind:      KindCodeBlock,
		StartLine: f.start,
		EndLine:   f.end,
		Raw:       strings.Join(raw, "\n"),
		Language:  f.language,
		Content:   f.content,
	})
}

// annotation parses the annotation starting on line i together with its
// continuation lines and returns the index of the first line after it.
func (p *parser) annotation(i int, fenceAt map[int]fence) int {
	line := p.line(i)
	rs := []rune(line)
	indent := skipSpace(rs, 0)

	pos := indent + 1
	for pos < len(rs) && isNameRune(rs[pos]) {
		pos++
	}
	b := &Block{
		Kind:      KindAnnotation,
		StartLine: i,
		EndLine:   i,
		Raw:       line,
		Name:      string(rs[indent+1 : pos]),
		NameRange: Range{Line: i, StartChar: indent, EndChar: pos},
		Lines:     []Range{{Line: i, StartChar: indent, EndChar: len(rs)}},
	}
	if pos < len(rs) && !isSpace(rs[pos]) {
		end := tokenEnd(rs, pos)
		p.res.Errors = append(p.res.Errors, newError(Range{Line: i, StartChar: indent, EndChar: end},
			"invalid annotation name %q", string(rs[indent:end])))
		pos = end
	}
	flags, errs := lexFlags(rs, pos, i)
	b.Flags = append(b.Flags, flags...)
	p.res.Errors = append(p.res.Errors, errs...)

	j := i + 1
	for ; j < len(p.lines); j++ {
		if _, ok := fenceAt[j]; ok {
			break
		}
		next := p.line(j)
		if !isContinuationLine(next) {
			break
		}
		nrs := []rune(next)
		flags, errs := lexFlags(nrs, 0, j)
		b.Flags = append(b.Flags, flags...)
		p.res.Errors = append(p.res.Errors, errs...)
		b.Lines = append(b.Lines, Range{Line: j, StartChar: skipSpace(nrs, 0), EndChar: len(nrs)})
		b.Raw += "\n" + next
		b.EndLine = j
	}
	if v, ok := b.Flag(VariableFlag); ok {
		b.Variable = v
	}
	p.res.Blocks = append(p.res.Blocks, b)
	return j
}

// attachCode binds each @execute to the code block that follows it, with
// only blank lines or comments in between.
func (p *parser) attachCode() {
	blocks := p.res.Blocks
	for idx, b := range blocks {
		if b.Kind != KindAnnotation || b.Name != ExecuteAnnotation {
			continue
		}
		var next *Block
		for _, c := range blocks[idx+1:] {
			if c.Kind == KindComment {
				continue
			}
			next = c
			break
		}
		if next != nil && next.Kind == KindCodeBlock && !next.Attached {
			next.Attached = true
			b.Code = next
			continue
		}
		p.res.Errors = append(p.res.Errors, newError(b.NameRange,
			"@%s must be followed by a fenced code block", ExecuteAnnotation))
	}
}
