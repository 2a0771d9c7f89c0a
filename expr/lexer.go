package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent // also carries keywords: and, or, not, in, true, false
	tokOp    // == != < <= > >= + - * / . , ( ) [ ]
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// lex tokenizes src. Unknown characters are an error, not a skip, so
// content typos fail at load time.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c >= '0' && c <= '9':
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				// A dot followed by a letter is path access, not a decimal.
				if src[i] == '.' && i+1 < len(src) && !isDigit(src[i+1]) {
					break
				}
				i++
			}
			n, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q at %d", src[start:i], start)
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], num: n, pos: start})

		case c == '"' || c == '\'':
			quote := c
			i++
			var sb strings.Builder
			closed := false
			for i < len(src) {
				if src[i] == '\\' && i+1 < len(src) {
					sb.WriteByte(src[i+1])
					i += 2
					continue
				}
				if src[i] == quote {
					closed = true
					i++
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at %d", i)
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), pos: i})

		case isIdentStart(rune(c)):
			start := i
			for i < len(src) && isIdentRune(rune(src[i])) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], pos: start})

		case c == '=' || c == '!' || c == '<' || c == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{kind: tokOp, text: src[i : i+2], pos: i})
				i += 2
			} else if c == '<' || c == '>' {
				toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
				i++
			} else {
				return nil, fmt.Errorf("unexpected %q at %d", string(c), i)
			}

		case strings.ContainsRune("+-*/.,()[]", rune(c)):
			toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
			i++

		default:
			return nil, fmt.Errorf("unexpected %q at %d", string(c), i)
		}
	}

	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
