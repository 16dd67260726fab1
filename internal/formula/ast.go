// Package formula provides parsing, validation and point-wise evaluation of
// user-authored formulas over frame columns and global constants. Formulas
// use a restricted arithmetic grammar: numeric literals, named variables,
// the binary operators + - * / **, unary + -, and positional function calls.
package formula

import (
	"fmt"
	"strconv"
	"strings"
)

// Node represents one node of a parsed formula tree.
type Node interface {
	String() string
}

// LiteralNode represents a numeric literal.
type LiteralNode struct {
	value float64
}

// Lit creates a literal node.
func Lit(value float64) *LiteralNode {
	return &LiteralNode{value: value}
}

func (n *LiteralNode) String() string {
	return strconv.FormatFloat(n.value, 'g', -1, 64)
}

// Value returns the literal value.
func (n *LiteralNode) Value() float64 {
	return n.value
}

// NameNode represents a reference to a variable or constant.
type NameNode struct {
	name string
}

// Name creates a name node.
func Name(name string) *NameNode {
	return &NameNode{name: name}
}

func (n *NameNode) String() string {
	return n.name
}

// Name returns the referenced identifier.
func (n *NameNode) Name() string {
	return n.name
}

// UnaryOp represents a unary operator.
type UnaryOp int

const (
	UnaryPlus UnaryOp = iota
	UnaryMinus
)

func (op UnaryOp) String() string {
	if op == UnaryMinus {
		return "-"
	}
	return "+"
}

// UnaryNode represents a unary operation.
type UnaryNode struct {
	op      UnaryOp
	operand Node
}

// Unary creates a unary node.
func Unary(op UnaryOp, operand Node) *UnaryNode {
	return &UnaryNode{op: op, operand: operand}
}

func (n *UnaryNode) String() string {
	return fmt.Sprintf("(%s%s)", n.op, n.operand)
}

// Op returns the unary operator.
func (n *UnaryNode) Op() UnaryOp {
	return n.op
}

// Operand returns the operand subtree.
func (n *UnaryNode) Operand() Node {
	return n.operand
}

// BinaryOp represents a binary operator.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpPow
)

func (op BinaryOp) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpPow:
		return "**"
	}
	return "?"
}

// BinaryNode represents a binary operation.
type BinaryNode struct {
	left  Node
	op    BinaryOp
	right Node
}

// Binary creates a binary node.
func Binary(left Node, op BinaryOp, right Node) *BinaryNode {
	return &BinaryNode{left: left, op: op, right: right}
}

func (n *BinaryNode) String() string {
	return fmt.Sprintf("(%s %s %s)", n.left, n.op, n.right)
}

// Left returns the left operand.
func (n *BinaryNode) Left() Node {
	return n.left
}

// Op returns the binary operator.
func (n *BinaryNode) Op() BinaryOp {
	return n.op
}

// Right returns the right operand.
func (n *BinaryNode) Right() Node {
	return n.right
}

// CallNode represents a function call with positional arguments.
type CallNode struct {
	name string
	args []Node
}

// Call creates a call node.
func Call(name string, args ...Node) *CallNode {
	return &CallNode{name: name, args: args}
}

func (n *CallNode) String() string {
	parts := make([]string, len(n.args))
	for i, arg := range n.args {
		parts[i] = arg.String()
	}
	return fmt.Sprintf("%s(%s)", n.name, strings.Join(parts, ", "))
}

// Name returns the callee identifier.
func (n *CallNode) Name() string {
	return n.name
}

// Args returns the argument subtrees.
func (n *CallNode) Args() []Node {
	return n.args
}

// Walk calls fn for every node of the tree in depth-first order. Walking
// stops early when fn returns false.
func Walk(node Node, fn func(Node) bool) bool {
	if node == nil || !fn(node) {
		return false
	}
	switch n := node.(type) {
	case *UnaryNode:
		return Walk(n.operand, fn)
	case *BinaryNode:
		return Walk(n.left, fn) && Walk(n.right, fn)
	case *CallNode:
		for _, arg := range n.args {
			if !Walk(arg, fn) {
				return false
			}
		}
	}
	return true
}

// HasSpatialOps reports whether the tree contains a spatial-operator call.
func HasSpatialOps(node Node) bool {
	found := false
	Walk(node, func(n Node) bool {
		if call, ok := n.(*CallNode); ok && IsSpatial(call.name) {
			found = true
			return false
		}
		return true
	})
	return found
}

// HasAggregates reports whether the tree contains a frame-aggregate call.
func HasAggregates(node Node) bool {
	found := false
	Walk(node, func(n Node) bool {
		if call, ok := n.(*CallNode); ok && IsAggregate(call.name) {
			found = true
			return false
		}
		return true
	})
	return found
}
