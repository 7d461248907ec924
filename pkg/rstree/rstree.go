// Copyright the Hayroll authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
// the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0
package rstree

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
)

// Node kinds of the Rust grammar which this toolkit needs to recognise.  The
// strings are owned by the grammar, not by us; they are collected here so that
// the rest of the codebase never spells one inline.
const (
	KindSourceFile      = "source_file"
	KindIfExpr          = "if_expression"
	KindElseClause      = "else_clause"
	KindBlock           = "block"
	KindUnsafeBlock     = "unsafe_block"
	KindMatchExpr       = "match_expression"
	KindLoopExpr        = "loop_expression"
	KindWhileExpr       = "while_expression"
	KindForExpr         = "for_expression"
	KindUnaryExpr       = "unary_expression"
	KindParenExpr       = "parenthesized_expression"
	KindExprStmt        = "expression_statement"
	KindLetDecl         = "let_declaration"
	KindEmptyStmt       = "empty_statement"
	KindLineComment     = "line_comment"
	KindBlockComment    = "block_comment"
	KindStringLiteral   = "string_literal"
	KindAttributeItem   = "attribute_item"
	KindInnerAttribute  = "inner_attribute_item"
	KindForeignMod      = "foreign_mod_item"
	KindDeclarationList = "declaration_list"
	KindFunctionItem    = "function_item"
	KindStaticItem      = "static_item"
	KindMacroDefinition = "macro_definition"
	KindMacroInvocation = "macro_invocation"
	KindMacroRule       = "macro_rule"
	KindTokenTree       = "token_tree"
	KindTokenTreePat    = "token_tree_pattern"
	KindPointerType     = "pointer_type"
	KindReturnExpr      = "return_expression"
)

// Tree pairs one source buffer with its parse.  The underlying tree-sitter
// tree is read-only; all mutation goes through an EditSet applied to the
// source text, after which the file is parsed afresh.
type Tree struct {
	src  []byte
	sit  *sitter.Tree
	root *sitter.Node
}

// Parse parses a Rust source buffer.  Parsing never fails structurally (the
// grammar produces error nodes instead), so the only error cases are
// cancellation-style failures from the parser itself.
func Parse(src []byte) (*Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(rust.GetLanguage())
	//
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, err
	}
	//
	return &Tree{src: src, sit: tree, root: tree.RootNode()}, nil
}

// Root returns the source_file node.
func (t *Tree) Root() *sitter.Node {
	return t.root
}

// Source returns the raw source buffer this tree was parsed from.
func (t *Tree) Source() []byte {
	return t.src
}

// Text returns the source text covered by the given node.
func (t *Tree) Text(n *sitter.Node) string {
	return string(t.src[n.StartByte():n.EndByte()])
}

// TextRange returns the source text covered by a byte range.
func (t *Tree) TextRange(start, end uint32) string {
	return string(t.src[start:end])
}

// Close releases the underlying parse.  Safe to call once per tree, after
// which the node handles it produced must no longer be used.
func (t *Tree) Close() {
	if t.sit != nil {
		t.sit.Close()
		t.sit = nil
	}
}

// SameNode reports whether two node handles denote the same syntax node.
// Handles are value wrappers over the underlying tree, so pointer comparison
// is meaningless; a node is identified by its span and kind instead, which is
// unique within one parse.
func SameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// NamedChildren collects the named children of a node in document order.
func NamedChildren(n *sitter.Node) []*sitter.Node {
	count := int(n.NamedChildCount())
	children := make([]*sitter.Node, 0, count)
	//
	for i := 0; i < count; i++ {
		children = append(children, n.NamedChild(i))
	}
	//
	return children
}

// Visit walks the subtree rooted at n in pre-order, visiting every node
// (named and anonymous alike).  Returning false from the callback prunes the
// walk below that node.
func Visit(n *sitter.Node, visit func(*sitter.Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	//
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		Visit(n.Child(i), visit)
	}
}

// Ancestor walks from n upwards (inclusive of n itself) and returns the first
// node whose kind is one of the given kinds, or nil if the root is reached
// without a match.
func Ancestor(n *sitter.Node, kinds ...string) *sitter.Node {
	for cur := n; cur != nil; cur = cur.Parent() {
		for _, kind := range kinds {
			if cur.Type() == kind {
				return cur
			}
		}
	}
	//
	return nil
}

// AncestorDeref walks from n upwards (inclusive) to the nearest dereference
// expression (a unary expression whose operator is `*`), or nil.
func AncestorDeref(n *sitter.Node) *sitter.Node {
	for cur := n; cur != nil; cur = cur.Parent() {
		if IsDeref(cur) {
			return cur
		}
	}
	//
	return nil
}

// IsDeref reports whether a node is a `*expr` dereference.
func IsDeref(n *sitter.Node) bool {
	if n.Type() != KindUnaryExpr || n.ChildCount() == 0 {
		return false
	}
	return n.Child(0).Type() == "*"
}

// FirstDescendant returns the first descendant of n (pre-order, excluding n
// itself) with the given kind, or nil.
func FirstDescendant(n *sitter.Node, kind string) *sitter.Node {
	var found *sitter.Node
	//
	count := int(n.ChildCount())
	for i := 0; i < count && found == nil; i++ {
		Visit(n.Child(i), func(d *sitter.Node) bool {
			if found != nil {
				return false
			}
			if d.Type() == kind {
				found = d
				return false
			}
			return true
		})
	}
	//
	return found
}

// ChildIndexOf returns the index of child within parent's named children, or
// -1 when child is not a named child of parent.
func ChildIndexOf(parent, child *sitter.Node) int {
	count := int(parent.NamedChildCount())
	for i := 0; i < count; i++ {
		if SameNode(parent.NamedChild(i), child) {
			return i
		}
	}
	//
	return -1
}

// PrecedingAttrs returns the contiguous run of attribute items immediately
// preceding a node among its named siblings, in document order.  The Rust
// grammar parses outer attributes as siblings of the item they decorate, so
// an item's full extent for deletion or comparison purposes must include this
// run.
func PrecedingAttrs(n *sitter.Node) []*sitter.Node {
	var attrs []*sitter.Node
	//
	for cur := n.PrevNamedSibling(); cur != nil && cur.Type() == KindAttributeItem; cur = cur.PrevNamedSibling() {
		attrs = append(attrs, cur)
	}
	// Collected innermost-first; flip into document order.
	for i, j := 0, len(attrs)-1; i < j; i, j = i+1, j-1 {
		attrs[i], attrs[j] = attrs[j], attrs[i]
	}
	//
	return attrs
}

// SpanWithAttrs returns the byte span of a node extended leftwards over its
// preceding attribute run.
func SpanWithAttrs(n *sitter.Node) (uint32, uint32) {
	start := n.StartByte()
	if attrs := PrecedingAttrs(n); len(attrs) > 0 {
		start = attrs[0].StartByte()
	}
	//
	return start, n.EndByte()
}

// TopInsertionPoint returns the byte offset at which a new top-level item
// should be inserted to land at the "top" of the file, i.e. after any inner
// attributes (`#![...]`) but before the first real item.  An item's outer
// attribute run counts as part of the item.
func TopInsertionPoint(t *Tree) uint32 {
	for _, child := range NamedChildren(t.Root()) {
		if child.Type() == KindInnerAttribute {
			continue
		}
		return child.StartByte()
	}
	//
	return uint32(len(t.src))
}

// BottomInsertionPoint returns the byte offset at which a new top-level item
// should be inserted to land at the "bottom" of the file.
func BottomInsertionPoint(t *Tree) uint32 {
	return uint32(len(t.src))
}
