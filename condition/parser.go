package condition

import (
	"fmt"
	"strconv"
)

const (
	maxExpressionLength = 4096
	maxNestingDepth     = 64
)

type node interface{}

type (
	literalNode struct {
		val value
	}
	pathNode struct {
		segments []string
		pos      int
	}
	notNode struct {
		operand node
	}
	logicalNode struct {
		op          tokenKind // tokAnd or tokOr
		left, right node
	}
	compareNode struct {
		op          tokenKind
		left, right node
		pos         int
	}
)

type parser struct {
	tokens []token
	pos    int
	depth  int
}

func parse(src string) (node, error) {
	if len(src) > maxExpressionLength {
		return nil, &SyntaxError{Pos: maxExpressionLength, Msg: fmt.Sprintf("expression longer than %d bytes", maxExpressionLength)}
	}
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 1 {
		return nil, &SyntaxError{Pos: 0, Msg: "empty expression"}
	}

	p := &parser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %s", describe(tok))}
	}
	return root, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) advance() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind) (token, error) {
	tok := p.advance()
	if tok.kind != kind {
		return tok, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("expected %s, found %s", kind, describe(tok))}
	}
	return tok, nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxNestingDepth {
		return &SyntaxError{Pos: p.peek().pos, Msg: "expression nested too deeply"}
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: tokOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: tokAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().kind != tokNot {
		return p.parseComparison()
	}
	p.advance()
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	operand, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	return &notNode{operand: operand}, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	switch tok := p.peek(); tok.kind {
	case tokEq, tokNe, tokLt, tokLe, tokGt, tokGe:
		p.advance()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		switch p.peek().kind {
		case tokEq, tokNe, tokLt, tokLe, tokGt, tokGe:
			return nil, &SyntaxError{Pos: p.peek().pos, Msg: "chained comparisons are not supported"}
		}
		return &compareNode{op: tok.kind, left: left, right: right, pos: tok.pos}, nil
	}
	return left, nil
}

func (p *parser) parseOperand() (node, error) {
	tok := p.advance()
	switch tok.kind {
	case tokString:
		return &literalNode{val: stringValue(tok.text)}, nil
	case tokNumber:
		return parseNumber(tok, false)
	case tokMinus:
		num, err := p.expect(tokNumber)
		if err != nil {
			return nil, err
		}
		return parseNumber(num, true)
	case tokTrue:
		return &literalNode{val: boolValue(true)}, nil
	case tokFalse:
		return &literalNode{val: boolValue(false)}, nil
	case tokIdent:
		return p.parsePath(tok)
	case tokLParen:
		if err := p.enter(); err != nil {
			return nil, err
		}
		defer p.leave()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %s", describe(tok))}
}

func (p *parser) parsePath(first token) (node, error) {
	path := &pathNode{segments: []string{first.text}, pos: first.pos}
	for p.peek().kind == tokDot {
		p.advance()
		seg, err := p.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		path.segments = append(path.segments, seg.text)
	}
	return path, nil
}

func parseNumber(tok token, negative bool) (node, error) {
	f, err := strconv.ParseFloat(tok.text, 64)
	if err != nil {
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("invalid number %q", tok.text)}
	}
	if negative {
		f = -f
	}
	return &literalNode{val: numberValue(f)}, nil
}

func describe(tok token) string {
	if tok.kind == tokEOF {
		return tok.kind.String()
	}
	return fmt.Sprintf("%s %q", tok.kind, tok.text)
}
