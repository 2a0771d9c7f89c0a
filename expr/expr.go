// Package expr implements the condition DSL: a small, non-Turing-complete
// boolean/arithmetic expression language evaluated against read-only game
// state. Parsing is capped (length, nesting) and evaluation is pure and
// total — it never panics and never errors at runtime.
package expr

import (
	"encoding/json"
	"fmt"
)

// Parse-time caps. Content exceeding either is rejected at load time.
const (
	MaxSourceLen = 1024
	MaxDepth     = 32
)

// Node is an AST node. The node set is closed: literals, paths, lists,
// unary/binary operators, and builtin calls.
type Node interface {
	node()
}

// Literal is a constant: bool, float64, or string.
type Literal struct {
	Val any
}

// Path is a dotted/bracketed state reference, e.g. meters.alex.trust.
// Bracket parts are sub-expressions resolved to a string at eval time.
type Path struct {
	Parts []PathPart
}

// PathPart is one segment of a Path: a fixed name or a dynamic index.
type PathPart struct {
	Name  string
	Index Node // non-nil for [expr] segments
}

// List is a literal list, used with the "in" operator.
type List struct {
	Elems []Node
}

// Unary is "not x" or "-x".
type Unary struct {
	Op string
	X  Node
}

// Binary is a two-operand operator: and, or, comparisons, arithmetic, in.
type Binary struct {
	Op   string
	L, R Node
}

// Call is a builtin function call. Names are checked at parse time.
type Call struct {
	Name string
	Args []Node
}

func (Literal) node() {}
func (Path) node()    {}
func (List) node()    {}
func (Unary) node()   {}
func (Binary) node()  {}
func (Call) node()    {}

// Expr is a parsed expression. Src is retained for serialization and
// diagnostics.
type Expr struct {
	Src  string
	Root Node
}

// String returns the original source text.
func (e *Expr) String() string {
	if e == nil {
		return ""
	}
	return e.Src
}

// MarshalJSON serializes an expression as its source text.
func (e *Expr) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Src)
}

// UnmarshalJSON re-parses an expression from its source text.
func (e *Expr) UnmarshalJSON(data []byte) error {
	var src string
	if err := json.Unmarshal(data, &src); err != nil {
		return err
	}
	parsed, err := Parse(src)
	if err != nil {
		return fmt.Errorf("expression %q: %w", src, err)
	}
	*e = *parsed
	return nil
}

// MustParse parses src and panics on error. For tests and fixed internal
// expressions only; content goes through Parse.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}
