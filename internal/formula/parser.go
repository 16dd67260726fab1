package formula

import (
	"fmt"

	"github.com/fieldgrid/fieldgrid/internal/errors"
)

// Operator binding powers. Exponentiation is right-associative and binds
// tighter than unary minus on its left, so -x**2 parses as -(x**2) while
// 2**-1 remains valid.
const (
	precLowest = iota
	precAdditive
	precMultiplicative
	precUnary
	precPower
)

type parser struct {
	scanner *scanner
	current token
	peeked  *token
}

// Parse parses a formula string into a tree. A scan or grammar failure
// returns a syntax-kind EngineError.
func Parse(input string) (Node, error) {
	p := &parser{scanner: newScanner(input)}
	if err := p.advance(); err != nil {
		return nil, errors.NewSyntaxError("Parse", input, err.Error())
	}

	node, err := p.parseExpr(precLowest)
	if err != nil {
		return nil, errors.NewSyntaxError("Parse", input, err.Error())
	}
	if p.current.kind != tokenEOF {
		return nil, errors.NewSyntaxError("Parse", input,
			fmt.Sprintf("unexpected %s at position %d", p.current.kind, p.current.pos))
	}
	return node, nil
}

func (p *parser) advance() error {
	if p.peeked != nil {
		p.current = *p.peeked
		p.peeked = nil
		return nil
	}
	tok, err := p.scanner.next()
	if err != nil {
		return err
	}
	p.current = tok
	return nil
}

func (p *parser) peek() (token, error) {
	if p.peeked == nil {
		tok, err := p.scanner.next()
		if err != nil {
			return token{}, err
		}
		p.peeked = &tok
	}
	return *p.peeked, nil
}

func infixPrecedence(kind tokenKind) int {
	switch kind {
	case tokenPlus, tokenMinus:
		return precAdditive
	case tokenStar, tokenSlash:
		return precMultiplicative
	case tokenPow:
		return precPower
	default:
		return precLowest
	}
}

func binaryOpFor(kind tokenKind) BinaryOp {
	switch kind {
	case tokenPlus:
		return OpAdd
	case tokenMinus:
		return OpSub
	case tokenStar:
		return OpMul
	case tokenSlash:
		return OpDiv
	default:
		return OpPow
	}
}

func (p *parser) parseExpr(minPrec int) (Node, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}

	for {
		prec := infixPrecedence(p.current.kind)
		if prec == precLowest || prec <= minPrec {
			break
		}

		op := binaryOpFor(p.current.kind)
		if err := p.advance(); err != nil {
			return nil, err
		}

		// Right-associativity for ** comes from re-entering at prec-1.
		rightMin := prec
		if op == OpPow {
			rightMin = prec - 1
		}
		right, err := p.parseExpr(rightMin)
		if err != nil {
			return nil, err
		}
		left = Binary(left, op, right)
	}

	return left, nil
}

func (p *parser) parsePrefix() (Node, error) {
	switch p.current.kind {
	case tokenNumber:
		node := Lit(p.current.value)
		if err := p.advance(); err != nil {
			return nil, err
		}
		return node, nil

	case tokenPlus, tokenMinus:
		op := UnaryPlus
		if p.current.kind == tokenMinus {
			op = UnaryMinus
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseExpr(precUnary)
		if err != nil {
			return nil, err
		}
		return Unary(op, operand), nil

	case tokenLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr(precLowest)
		if err != nil {
			return nil, err
		}
		if p.current.kind != tokenRParen {
			return nil, fmt.Errorf("expected ')' at position %d, found %s", p.current.pos, p.current.kind)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil

	case tokenIdent:
		name := p.current.text
		next, err := p.peek()
		if err != nil {
			return nil, err
		}
		if next.kind == tokenLParen {
			return p.parseCall(name)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return Name(name), nil

	default:
		return nil, fmt.Errorf("unexpected %s at position %d", p.current.kind, p.current.pos)
	}
}

func (p *parser) parseCall(name string) (Node, error) {
	// Consume the identifier, then the '('.
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	var args []Node
	if p.current.kind != tokenRParen {
		for {
			arg, err := p.parseExpr(precLowest)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.current.kind != tokenComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}

	if p.current.kind != tokenRParen {
		return nil, fmt.Errorf("expected ')' closing call to %s at position %d, found %s",
			name, p.current.pos, p.current.kind)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return Call(name, args...), nil
}
