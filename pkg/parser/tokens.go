package parser

import "sort"

// TokenType classifies a highlight token.
type TokenType string

const (
	TokenAnnotation TokenType = "annotation"
	TokenFlag       TokenType = "flag"
	TokenValue      TokenType = "value"
	TokenComment    TokenType = "comment"
	TokenCode       TokenType = "code"
)

// Token is a single-line highlight span.
type Token struct {
	Range
	Type TokenType `json:"type"`
}

// LineTokens flattens all blocks into single-line tokens ordered by
// position. Multi-line annotations are split per physical line.
func (r *Result) LineTokens() []Token {
	var tokens []Token
	for _, b := range r.Blocks {
		switch b.Kind {
		case KindAnnotation:
			tokens = append(tokens, Token{Range: b.NameRange, Type: TokenAnnotation})
			for _, f := range b.Flags {
				tokens = append(tokens, Token{Range: f.KeyRange, Type: TokenFlag})
				if !f.Valueless {
					tokens = append(tokens, Token{Range: f.ValueRange, Type: TokenValue})
				}
			}
		case KindComment:
			rs := []rune(b.Raw)
			start := skipSpace(rs, 0)
			tokens = append(tokens, Token{
				Range: Range{Line: b.StartLine, StartChar: start, EndChar: len(rs)},
				Type:  TokenComment,
			})
		case KindCodeBlock:
			if !b.Attached {
				continue
			}
			for i, line := range splitLines(b.Raw + "\n") {
				tokens = append(tokens, Token{
					Range: Range{Line: b.StartLine + i, StartChar: 0, EndChar: len([]rune(line))},
					Type:  TokenCode,
				})
			}
		}
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		if tokens[i].Line != tokens[j].Line {
			return tokens[i].Line < tokens[j].Line
		}
		return tokens[i].StartChar < tokens[j].StartChar
	})
	return tokens
}
