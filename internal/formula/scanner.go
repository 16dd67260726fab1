package formula

import (
	"fmt"
	"strconv"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenIdent
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenPow
	tokenLParen
	tokenRParen
	tokenComma
)

func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of formula"
	case tokenNumber:
		return "number"
	case tokenIdent:
		return "identifier"
	case tokenPlus:
		return "'+'"
	case tokenMinus:
		return "'-'"
	case tokenStar:
		return "'*'"
	case tokenSlash:
		return "'/'"
	case tokenPow:
		return "'**'"
	case tokenLParen:
		return "'('"
	case tokenRParen:
		return "')'"
	case tokenComma:
		return "','"
	}
	return "unknown token"
}

type token struct {
	kind  tokenKind
	text  string
	value float64
	pos   int
}

// scanner turns a formula string into tokens. Any character outside the
// restricted grammar (string quotes, brackets, comparison operators, '=')
// is a scan error, which surfaces as a syntax failure.
type scanner struct {
	input []rune
	pos   int
}

func newScanner(input string) *scanner {
	return &scanner{input: []rune(input)}
}

func (s *scanner) next() (token, error) {
	for s.pos < len(s.input) && unicode.IsSpace(s.input[s.pos]) {
		s.pos++
	}
	if s.pos >= len(s.input) {
		return token{kind: tokenEOF, pos: s.pos}, nil
	}

	start := s.pos
	ch := s.input[s.pos]

	switch {
	case ch == '+':
		s.pos++
		return token{kind: tokenPlus, text: "+", pos: start}, nil
	case ch == '-':
		s.pos++
		return token{kind: tokenMinus, text: "-", pos: start}, nil
	case ch == '*':
		s.pos++
		if s.pos < len(s.input) && s.input[s.pos] == '*' {
			s.pos++
			return token{kind: tokenPow, text: "**", pos: start}, nil
		}
		return token{kind: tokenStar, text: "*", pos: start}, nil
	case ch == '/':
		s.pos++
		return token{kind: tokenSlash, text: "/", pos: start}, nil
	case ch == '(':
		s.pos++
		return token{kind: tokenLParen, text: "(", pos: start}, nil
	case ch == ')':
		s.pos++
		return token{kind: tokenRParen, text: ")", pos: start}, nil
	case ch == ',':
		s.pos++
		return token{kind: tokenComma, text: ",", pos: start}, nil
	case unicode.IsDigit(ch) || ch == '.':
		return s.scanNumber(start)
	case unicode.IsLetter(ch) || ch == '_':
		return s.scanIdent(start)
	default:
		return token{}, fmt.Errorf("unexpected character %q at position %d", string(ch), start)
	}
}

func (s *scanner) scanNumber(start int) (token, error) {
	sawDigit := false
	for s.pos < len(s.input) && (unicode.IsDigit(s.input[s.pos]) || s.input[s.pos] == '.') {
		if unicode.IsDigit(s.input[s.pos]) {
			sawDigit = true
		}
		s.pos++
	}
	// Exponent part, e.g. 1.5e-3
	if s.pos < len(s.input) && (s.input[s.pos] == 'e' || s.input[s.pos] == 'E') && sawDigit {
		mark := s.pos
		s.pos++
		if s.pos < len(s.input) && (s.input[s.pos] == '+' || s.input[s.pos] == '-') {
			s.pos++
		}
		if s.pos < len(s.input) && unicode.IsDigit(s.input[s.pos]) {
			for s.pos < len(s.input) && unicode.IsDigit(s.input[s.pos]) {
				s.pos++
			}
		} else {
			// Not an exponent after all; treat the 'e' as a separate identifier.
			s.pos = mark
		}
	}

	text := string(s.input[start:s.pos])
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, fmt.Errorf("invalid number %q at position %d", text, start)
	}
	return token{kind: tokenNumber, text: text, value: value, pos: start}, nil
}

func (s *scanner) scanIdent(start int) (token, error) {
	for s.pos < len(s.input) && (unicode.IsLetter(s.input[s.pos]) || unicode.IsDigit(s.input[s.pos]) || s.input[s.pos] == '_') {
		s.pos++
	}
	return token{kind: tokenIdent, text: string(s.input[start:s.pos]), pos: start}, nil
}
