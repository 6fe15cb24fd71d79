package parser

import "strings"

// Format renders a parsed document in canonical form: annotations start at
// column zero, flag values are always quoted, runs of blank lines collapse
// to one, and trailing whitespace is removed. Tokens that failed to parse
// are dropped, so callers should refuse to format documents with errors.
func Format(r *Result) string {
	var b strings.Builder
	prevEnd := -1
	if r.frontMatter != "" {
		b.WriteString(r.frontMatter)
		b.WriteByte('\n')
		prevEnd = strings.Count(r.frontMatter, "\n")
	}
	for _, blk := range r.Blocks {
		if prevEnd >= 0 && blk.StartLine > prevEnd+1 {
			b.WriteByte('\n')
		}
		switch blk.Kind {
		case KindAnnotation:
			b.WriteString(formatAnnotation(blk))
		case KindComment:
			b.WriteString(strings.TrimSpace(blk.Raw))
		case KindText:
			lines := strings.Split(blk.Raw, "\n")
			for i, line := range lines {
				lines[i] = strings.TrimRight(line, " \t")
			}
			b.WriteString(strings.Join(lines, "\n"))
		case KindCodeBlock:
			b.WriteString(blk.Raw)
		}
		b.WriteByte('\n')
		prevEnd = blk.EndLine
	}
	return b.String()
}

func formatAnnotation(blk *Block) string {
	lines := make([][]string, len(blk.Lines))
	index := make(map[int]int, len(blk.Lines))
	for i, lr := range blk.Lines {
		index[lr.Line] = i
	}
	lines[0] = []string{"@" + blk.Name}
	for _, f := range blk.Flags {
		tok := "--" + f.Key
		if !f.Valueless {
			tok += " " + quote(f.Value)
		}
		i := index[f.KeyRange.Line]
		lines[i] = append(lines[i], tok)
	}
	out := make([]string, 0, len(lines))
	for i, toks := range lines {
		if len(toks) == 0 {
			continue
		}
		if i == 0 {
			out = append(out, strings.Join(toks, " "))
		} else {
			out = append(out, "  "+strings.Join(toks, " "))
		}
	}
	return strings.Join(out, "\n")
}
