package expr

import "fmt"

// builtins maps builtin names to their accepted arity range.
var builtins = map[string][2]int{
	"has":         {1, 1},
	"npc_present": {1, 1},
	"rand":        {1, 1},
	"min":         {2, 8},
	"max":         {2, 8},
	"abs":         {1, 1},
	"clamp":       {3, 3},
	"get":         {2, 2},
}

// Parse compiles src into an Expr. It rejects source over MaxSourceLen,
// nesting deeper than MaxDepth, unknown builtins, and wrong arities.
func Parse(src string) (*Expr, error) {
	if len(src) > MaxSourceLen {
		return nil, fmt.Errorf("expression exceeds %d bytes", MaxSourceLen)
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseOr(0)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at %d", p.peek().text, p.peek().pos)
	}
	return &Expr{Src: src, Root: root}, nil
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if p.toks[p.i].kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) acceptOp(op string) bool {
	if p.peek().kind == tokOp && p.peek().text == op {
		p.i++
		return true
	}
	return false
}

func (p *parser) acceptIdent(word string) bool {
	if p.peek().kind == tokIdent && p.peek().text == word {
		p.i++
		return true
	}
	return false
}

func (p *parser) expectOp(op string) error {
	if !p.acceptOp(op) {
		return fmt.Errorf("expected %q at %d, got %q", op, p.peek().pos, p.peek().text)
	}
	return nil
}

func (p *parser) depthCheck(depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("expression nesting exceeds %d levels", MaxDepth)
	}
	return nil
}

func (p *parser) parseOr(depth int) (Node, error) {
	if err := p.depthCheck(depth); err != nil {
		return nil, err
	}
	left, err := p.parseAnd(depth)
	if err != nil {
		return nil, err
	}
	for p.acceptIdent("or") {
		right, err := p.parseAnd(depth)
		if err != nil {
			return nil, err
		}
		left = Binary{Op: "or", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAnd(depth int) (Node, error) {
	left, err := p.parseNot(depth)
	if err != nil {
		return nil, err
	}
	for p.acceptIdent("and") {
		right, err := p.parseNot(depth)
		if err != nil {
			return nil, err
		}
		left = Binary{Op: "and", L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseNot(depth int) (Node, error) {
	if err := p.depthCheck(depth); err != nil {
		return nil, err
	}
	if p.acceptIdent("not") {
		x, err := p.parseNot(depth + 1)
		if err != nil {
			return nil, err
		}
		return Unary{Op: "not", X: x}, nil
	}
	return p.parseComparison(depth)
}

var comparisonOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

func (p *parser) parseComparison(depth int) (Node, error) {
	left, err := p.parseSum(depth)
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokOp && comparisonOps[p.peek().text] {
		op := p.next().text
		right, err := p.parseSum(depth)
		if err != nil {
			return nil, err
		}
		return Binary{Op: op, L: left, R: right}, nil
	}
	if p.acceptIdent("in") {
		right, err := p.parseSum(depth)
		if err != nil {
			return nil, err
		}
		return Binary{Op: "in", L: left, R: right}, nil
	}
	return left, nil
}

func (p *parser) parseSum(depth int) (Node, error) {
	left, err := p.parseTerm(depth)
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "+" || p.peek().text == "-") {
		op := p.next().text
		right, err := p.parseTerm(depth)
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseTerm(depth int) (Node, error) {
	left, err := p.parseUnary(depth)
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "*" || p.peek().text == "/") {
		op := p.next().text
		right, err := p.parseUnary(depth)
		if err != nil {
			return nil, err
		}
		left = Binary{Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseUnary(depth int) (Node, error) {
	if err := p.depthCheck(depth); err != nil {
		return nil, err
	}
	if p.acceptOp("-") {
		x, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		return Unary{Op: "-", X: x}, nil
	}
	return p.parsePostfix(depth)
}

// parsePostfix parses a primary followed by .name / [expr] path segments.
func (p *parser) parsePostfix(depth int) (Node, error) {
	base, err := p.parsePrimary(depth)
	if err != nil {
		return nil, err
	}

	var parts []PathPart
	for {
		if p.acceptOp(".") {
			t := p.next()
			if t.kind != tokIdent {
				return nil, fmt.Errorf("expected name after '.' at %d", t.pos)
			}
			parts = append(parts, PathPart{Name: t.text})
			continue
		}
		if p.peek().kind == tokOp && p.peek().text == "[" {
			p.next()
			idx, err := p.parseOr(depth + 1)
			if err != nil {
				return nil, err
			}
			if err := p.expectOp("]"); err != nil {
				return nil, err
			}
			parts = append(parts, PathPart{Index: idx})
			continue
		}
		break
	}

	if len(parts) == 0 {
		return base, nil
	}
	head, ok := base.(Path)
	if !ok {
		return nil, fmt.Errorf("path access on non-identifier")
	}
	head.Parts = append(head.Parts, parts...)
	return head, nil
}

func (p *parser) parsePrimary(depth int) (Node, error) {
	if err := p.depthCheck(depth); err != nil {
		return nil, err
	}
	t := p.peek()

	switch t.kind {
	case tokNumber:
		p.next()
		return Literal{Val: t.num}, nil

	case tokString:
		p.next()
		return Literal{Val: t.text}, nil

	case tokIdent:
		p.next()
		switch t.text {
		case "true":
			return Literal{Val: true}, nil
		case "false":
			return Literal{Val: false}, nil
		}
		// Builtin call.
		if p.peek().kind == tokOp && p.peek().text == "(" {
			arity, known := builtins[t.text]
			if !known {
				return nil, fmt.Errorf("unknown function %q at %d", t.text, t.pos)
			}
			p.next()
			args, err := p.parseArgs(depth + 1)
			if err != nil {
				return nil, err
			}
			if len(args) < arity[0] || len(args) > arity[1] {
				return nil, fmt.Errorf("%s takes %d-%d args, got %d", t.text, arity[0], arity[1], len(args))
			}
			return Call{Name: t.text, Args: args}, nil
		}
		return Path{Parts: []PathPart{{Name: t.text}}}, nil

	case tokOp:
		if t.text == "(" {
			p.next()
			inner, err := p.parseOr(depth + 1)
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			return inner, nil
		}
		if t.text == "[" {
			p.next()
			var elems []Node
			if !p.acceptOp("]") {
				for {
					el, err := p.parseOr(depth + 1)
					if err != nil {
						return nil, err
					}
					elems = append(elems, el)
					if p.acceptOp(",") {
						continue
					}
					if err := p.expectOp("]"); err != nil {
						return nil, err
					}
					break
				}
			}
			return List{Elems: elems}, nil
		}
	}

	return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
}

func (p *parser) parseArgs(depth int) ([]Node, error) {
	var args []Node
	if p.acceptOp(")") {
		return args, nil
	}
	for {
		a, err := p.parseOr(depth + 1)
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.acceptOp(",") {
			continue
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return args, nil
	}
}
