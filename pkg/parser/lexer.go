package parser

import (
	"strings"
	"unicode"
)

func isSpace(r rune) bool {
	return r == ' ' || r == '\t'
}

func isNameStart(r rune) bool {
	return unicode.IsLetter(r)
}

func isNameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' || r == '/'
}

func isKeyRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.'
}

func validKey(key string) bool {
	for i, r := range key {
		if i == 0 && !unicode.IsLetter(r) {
			return false
		}
		if !isKeyRune(r) {
			return false
		}
	}
	return key != ""
}

func hasDashes(rs []rune, i int) bool {
	return i+1 < len(rs) && rs[i] == '-' && rs[i+1] == '-'
}

func skipSpace(rs []rune, i int) int {
	for i < len(rs) && isSpace(rs[i]) {
		i++
	}
	return i
}

func tokenEnd(rs []rune, i int) int {
	for i < len(rs) && !isSpace(rs[i]) {
		i++
	}
	return i
}

// isAnnotationLine reports whether the trimmed line opens an annotation.
func isAnnotationLine(trimmed string) bool {
	if !strings.HasPrefix(trimmed, "@") {
		return false
	}
	rs := []rune(trimmed)
	return len(rs) > 1 && isNameStart(rs[1])
}

// isContinuationLine reports whether line continues the preceding annotation.
func isContinuationLine(line string) bool {
	if line == "" || !isSpace(rune(line[0])) {
		return false
	}
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "--")
}

// lexFlags scans `--key value` pairs from position i of a single line.
// Malformed tokens are reported and skipped so the rest of the line is
// still recovered.
func lexFlags(rs []rune, i, line int) ([]Flag, []ParseError) {
	var (
		flags []Flag
		errs  []ParseError
	)
	for {
		i = skipSpace(rs, i)
		if i >= len(rs) {
			return flags, errs
		}
		if !hasDashes(rs, i) {
			end := tokenEnd(rs, i)
			errs = append(errs, newError(Range{Line: line, StartChar: i, EndChar: end},
				"unexpected token %q: flags must start with --", string(rs[i:end])))
			i = end
			continue
		}

		keyStart := i
		i = tokenEnd(rs, i+2)
		key := string(rs[keyStart+2 : i])
		keyRange := Range{Line: line, StartChar: keyStart, EndChar: i}
		if key == "" {
			errs = append(errs, newError(keyRange, "empty flag name"))
			continue
		}
		if !validKey(key) {
			errs = append(errs, newError(keyRange, "invalid flag name %q", key))
			i = skipValue(rs, i)
			continue
		}

		flag := Flag{Key: key, KeyRange: keyRange}
		i = skipSpace(rs, i)
		switch {
		case i >= len(rs) || hasDashes(rs, i):
			flag.Value = "true"
			flag.Valueless = true
		case rs[i] == '"':
			value, end, ok := lexQuoted(rs, i)
			if !ok {
				errs = append(errs, newError(Range{Line: line, StartChar: i, EndChar: len(rs)},
					"unterminated quoted value for --%s", key))
				return flags, errs
			}
			flag.Value = value
			flag.Quoted = true
			flag.ValueRange = Range{Line: line, StartChar: i, EndChar: end}
			i = end
			if i < len(rs) && !isSpace(rs[i]) {
				trail := tokenEnd(rs, i)
				errs = append(errs, newError(Range{Line: line, StartChar: i, EndChar: trail},
					"unexpected characters after quoted value of --%s", key))
				i = trail
			}
		default:
			end := tokenEnd(rs, i)
			flag.Value = string(rs[i:end])
			flag.ValueRange = Range{Line: line, StartChar: i, EndChar: end}
			i = end
		}
		flags = append(flags, flag)
	}
}

// skipValue moves past the value of a rejected flag, if it has one.
func skipValue(rs []rune, i int) int {
	j := skipSpace(rs, i)
	if j >= len(rs) || hasDashes(rs, j) {
		return j
	}
	if rs[j] == '"' {
		if _, end, ok := lexQuoted(rs, j); ok {
			return end
		}
		return len(rs)
	}
	return tokenEnd(rs, j)
}

// lexQuoted reads a double-quoted string starting at rs[i] == '"'. It
// returns the unescaped value and the index just past the closing quote.
func lexQuoted(rs []rune, i int) (string, int, bool) {
	var b strings.Builder
	for j := i + 1; j < len(rs); j++ {
		switch rs[j] {
		case '\\':
			if j+1 >= len(rs) {
				b.WriteRune('\\')
				continue
			}
			j++
			switch rs[j] {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			case '"', '\\':
				b.WriteRune(rs[j])
			default:
				b.WriteRune('\\')
				b.WriteRune(rs[j])
			}
		case '"':
			return b.String(), j + 1, true
		default:
			b.WriteRune(rs[j])
		}
	}
	return "", len(rs), false
}

// quote renders value in the canonical quoted form understood by lexQuoted.
func quote(value string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range value {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
