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
package hayroll

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/hayroll/go-hayroll/pkg/rstree"
)

// ConditionalMacro is one recovered preprocessor conditional: a seed of the
// conditional family whose premise names the build configuration under which
// its region was compiled in.
type ConditionalMacro struct {
	Seed Seed
}

// CollectConditionals selects the conditional-family seeds, in extraction
// order.
func CollectConditionals(seeds []Seed) []*ConditionalMacro {
	var conds []*ConditionalMacro
	for _, seed := range seeds {
		if seed.Begin().SeedType == SeedConditional {
			conds = append(conds, &ConditionalMacro{Seed: seed})
		}
	}
	return conds
}

// Tag returns the conditional's begin tag.
func (c *ConditionalMacro) Tag() *Tag { return c.Seed.Begin() }

// Deferred reports whether gating this conditional has to wait for a later
// round.  Only the expression shape ever defers: its rewrite copies both
// branch texts out of the current snapshot, so any other pending conditional
// whose literal sits inside the guard must be gated first or its own rewrite
// would be copied over.
func (c *ConditionalMacro) Deferred(pending []*ConditionalMacro) bool {
	expr, ok := c.Seed.(*ExprSeed)
	if !ok {
		return false
	}
	//
	start, end := expr.Guard.StartByte(), expr.Guard.EndByte()
	for _, other := range pending {
		if other.Tag().LocBegin == c.Tag().LocBegin {
			continue
		}
		if start <= other.Tag().StartByte() && other.Tag().EndByte() <= end {
			return true
		}
	}
	//
	return false
}

// AttachCfg plans the gating edits for this conditional against the current
// snapshot of its file.
//
// An expression region keeps its dead-branch guard (the cleanup pass peels
// it) but its then-branch becomes a braced cfg! choice over the two original
// arms.  A statement region gains a #[cfg] annotation per statement; a
// statement that cannot carry one directly is wrapped in parentheses that
// can.  A declaration region gains the annotation per declaration.
func (c *ConditionalMacro) AttachCfg(edits *rstree.EditSet) error {
	// A placeholder has no live body worth gating.  Declaration placeholders
	// are gated anyway: the invocation analyzer misreports declaration ranges
	// as placeholders when other directives invade them, and gating the items
	// is harmless when the range really is empty.
	if c.Tag().IsPlaceholder && !c.Tag().ASTKind.IsDeclLike() {
		return nil
	}
	if c.Tag().Premise == "" {
		return fmt.Errorf("%w: conditional %s at %s has no premise", ErrMalformedTag, c.Tag().Name, c.Tag().LocBegin)
	}
	//
	switch seed := c.Seed.(type) {
	case *ExprSeed:
		return c.attachCfgExpr(seed, edits)
	case *StmtsSeed:
		return c.attachCfgStmts(seed, edits)
	case *DeclsSeed:
		return c.attachCfgDecls(seed, edits)
	}
	//
	return nil
}

func (c *ConditionalMacro) attachCfgExpr(seed *ExprSeed, edits *rstree.EditSet) error {
	tree := c.Tag().Tree
	then := thenBlock(seed.Guard)
	els := elseBranch(seed.Guard)
	if then == nil || els == nil {
		return fmt.Errorf("%w: conditional guard at %s is missing a branch", ErrMalformedTag, c.Tag().LocBegin)
	}
	// The outer braces keep the rewrite a single block expression, which is
	// what the guard's then-branch slot expects.
	text := fmt.Sprintf("{ if cfg!(%s) %s else %s }", c.Tag().Premise, tree.Text(then), tree.Text(els))
	edits.Replace(then, text)
	//
	return nil
}

func (c *ConditionalMacro) attachCfgStmts(seed *StmtsSeed, edits *rstree.EditSet) error {
	tree := c.Tag().Tree
	region, err := InnerRegion(seed)
	if err != nil {
		return err
	}
	stmts := region.(*StmtsRegion)
	if stmts.IsEmpty() {
		return nil
	}
	//
	for _, stmt := range stmts.Stmts() {
		switch stmt.Type() {
		case rstree.KindEmptyStmt, rstree.KindAttributeItem, rstree.KindLineComment, rstree.KindBlockComment:
			// Attribute items belong to the statement that follows them and
			// are covered by its insertion point.
		case rstree.KindExprStmt:
			if StmtIsTagMarker(tree, c.Tag().File, stmt) {
				continue
			}
			expr := stmt.NamedChild(0)
			if expr == nil {
				log.Errorf("statement at %s has no expression: %s", c.Tag().File, clip(tree.Text(stmt)))
				continue
			}
			if exprCarriesAttrs(expr) {
				c.insertAttrBefore(stmt, edits)
			} else {
				indent := lineIndent(tree.Source(), stmt.StartByte())
				edits.Insert(expr.StartByte(), fmt.Sprintf("#[cfg(%s)]\n%s(", c.Tag().Premise, indent))
				edits.Insert(expr.EndByte(), ")")
			}
		default:
			// Let bindings and item statements take an outer attribute as-is.
			c.insertAttrBefore(stmt, edits)
		}
	}
	//
	return nil
}

func (c *ConditionalMacro) attachCfgDecls(seed *DeclsSeed, edits *rstree.EditSet) error {
	region, err := RawRegion(seed, false)
	if err != nil {
		return err
	}
	decls := region.(*DeclsRegion)
	//
	for _, item := range decls.Items {
		c.insertAttrBefore(item, edits)
	}
	//
	return nil
}

// insertAttrBefore plans the cfg annotation on its own line in front of a
// node's outer attribute run, reusing the node's own indentation.
func (c *ConditionalMacro) insertAttrBefore(n *sitter.Node, edits *rstree.EditSet) {
	start, _ := rstree.SpanWithAttrs(n)
	indent := lineIndent(c.Tag().Tree.Source(), start)
	edits.Insert(start, fmt.Sprintf("#[cfg(%s)]\n%s", c.Tag().Premise, indent))
}

// exprCarriesAttrs reports whether an expression shape accepts an outer
// attribute directly, so that gating it needs no parenthesis wrapper.
func exprCarriesAttrs(expr *sitter.Node) bool {
	switch expr.Type() {
	case rstree.KindBlock, rstree.KindUnsafeBlock, rstree.KindIfExpr, rstree.KindMatchExpr,
		rstree.KindLoopExpr, rstree.KindWhileExpr, rstree.KindForExpr, rstree.KindParenExpr:
		return true
	}
	return false
}

// StmtIsTagMarker reports whether a statement is seed-tag scaffolding: any
// byte-string literal under it that decodes to a tag payload marks it.
func StmtIsTagMarker(tree *rstree.Tree, file string, stmt *sitter.Node) bool {
	marker := false
	rstree.Visit(stmt, func(n *sitter.Node) bool {
		if marker {
			return false
		}
		if n.Type() == rstree.KindStringLiteral {
			if tag, err := ParseTag(tree, file, n); err == nil && tag != nil {
				marker = true
			}
			return false
		}
		return true
	})
	return marker
}

// lineIndent returns the whitespace prefix of the line containing a byte
// offset, or "" when the offset is not at the line's first token.
func lineIndent(src []byte, at uint32) string {
	lineStart := at
	for lineStart > 0 && src[lineStart-1] != '\n' {
		lineStart--
	}
	for _, b := range src[lineStart:at] {
		if b != ' ' && b != '\t' {
			return ""
		}
	}
	return string(src[lineStart:at])
}
