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
	"regexp"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/hayroll/go-hayroll/pkg/rstree"
)

// CodeRegion is the uniform view over the three physical shapes a tagged
// region can take.  Regions are derived on demand from a seed plus a deref
// mode and never outlive the parse they were derived from.
type CodeRegion interface {
	// Tree returns the parse the region's nodes belong to.
	Tree() *rstree.Tree
	// IsEmpty reports whether the region covers no nodes at all.
	IsEmpty() bool
	// isRegion keeps the sum closed.
	isRegion()
}

// ExprRegion is a single guarded expression.  Node is the instrumentation
// if-expression, or the dereference wrapping it when the seed is an lvalue
// and the region was derived with deref.
type ExprRegion struct {
	Node *sitter.Node
	tree *rstree.Tree
}

func (r *ExprRegion) Tree() *rstree.Tree { return r.tree }

func (r *ExprRegion) IsEmpty() bool { return false }

func (r *ExprRegion) isRegion() {}

// StmtsRegion is an inclusive run of named children of one statement list.
// The marker statements are part of the raw region; inner regions exclude
// them and may therefore be empty (Last < First).
type StmtsRegion struct {
	Parent *sitter.Node
	First  int
	Last   int
	tree   *rstree.Tree
}

func (r *StmtsRegion) Tree() *rstree.Tree { return r.tree }

func (r *StmtsRegion) IsEmpty() bool { return r.Last < r.First }

func (r *StmtsRegion) isRegion() {}

// Stmts returns the named children the region covers, in document order.
func (r *StmtsRegion) Stmts() []*sitter.Node {
	var out []*sitter.Node
	for i := r.First; i <= r.Last; i++ {
		out = append(out, r.Parent.NamedChild(i))
	}
	return out
}

// DeclsRegion is a scattered set of declarations matched by compilation-unit
// location, in document order.  The tag-bearing item is never a member.
type DeclsRegion struct {
	Items []*sitter.Node
	tree  *rstree.Tree
}

func (r *DeclsRegion) Tree() *rstree.Tree { return r.tree }

func (r *DeclsRegion) IsEmpty() bool { return len(r.Items) == 0 }

func (r *DeclsRegion) isRegion() {}

// RawRegion locates the minimal enclosing construct for a seed.  For an Expr
// seed with withDeref set and an lvalue tag, the region extends one level
// further to the dereference the instrumentation wrapped around the guard.
func RawRegion(seed Seed, withDeref bool) (CodeRegion, error) {
	switch s := seed.(type) {
	case *ExprSeed:
		node := s.Guard
		if withDeref && s.Tag.IsLvalue {
			deref := rstree.AncestorDeref(s.Guard)
			if deref == nil {
				return nil, fmt.Errorf("%w: lvalue tag %s at %s has no dereference wrapper", ErrMalformedTag, s.Tag.LocBegin, s.Tag.File)
			}
			node = deref
		}
		return &ExprRegion{Node: node, tree: s.Tag.Tree}, nil
	//
	case *StmtsSeed:
		parent := s.BeginStmt.Parent()
		first := rstree.ChildIndexOf(parent, s.BeginStmt)
		last := rstree.ChildIndexOf(parent, s.EndStmt)
		if first < 0 || last < first {
			panic(fmt.Sprintf("marker statements detached from their list at %s", s.TagBegin.LocBegin))
		}
		return &StmtsRegion{Parent: parent, First: first, Last: last, tree: s.TagBegin.Tree}, nil
	//
	case *DeclsSeed:
		items, err := declsInRange(s.Tag, s.TagItem)
		if err != nil {
			return nil, err
		}
		return &DeclsRegion{Items: items, tree: s.Tag.Tree}, nil
	//
	default:
		panic("unknown seed shape")
	}
}

// InnerRegion is the region inside the tag scaffolding: the guard's live
// block for Expr, the statements strictly between the markers for Stmts, and
// the member declarations unchanged for Decls.
func InnerRegion(seed Seed) (CodeRegion, error) {
	switch s := seed.(type) {
	case *ExprSeed:
		then := thenBlock(s.Guard)
		if then == nil {
			return nil, fmt.Errorf("%w: guard at %s has no live branch", ErrMalformedTag, s.Tag.LocBegin)
		}
		return &ExprRegion{Node: then, tree: s.Tag.Tree}, nil
	//
	case *StmtsSeed:
		raw, err := RawRegion(s, false)
		if err != nil {
			return nil, err
		}
		stmts := raw.(*StmtsRegion)
		return &StmtsRegion{Parent: stmts.Parent, First: stmts.First + 1, Last: stmts.Last - 1, tree: stmts.tree}, nil
	//
	case *DeclsSeed:
		return RawRegion(s, false)
	//
	default:
		panic("unknown seed shape")
	}
}

// FlattenToRange produces the contiguous byte span a bulk replace of the
// region must cover.  Decls regions are not contiguous; flattening one is a
// programming error.
func FlattenToRange(region CodeRegion) (uint32, uint32) {
	switch r := region.(type) {
	case *ExprRegion:
		return r.Node.StartByte(), r.Node.EndByte()
	case *StmtsRegion:
		if r.IsEmpty() {
			panic("flattening an empty statement region")
		}
		return r.Parent.NamedChild(r.First).StartByte(), r.Parent.NamedChild(r.Last).EndByte()
	case *DeclsRegion:
		panic("flattening a declaration region")
	default:
		panic("unknown region shape")
	}
}

// Sub is a planned textual substitution over an absolute byte range of the
// region's file, used to swap bound argument occurrences for parameter
// references while peeling.
type Sub struct {
	Start uint32
	End   uint32
	Text  string
}

// PeelTag returns the region's text with the translator scaffolding removed:
// the guard collapses to its live block (an lvalue keeps its surrounding
// dereference, now wrapping the live block), a statement run drops its two
// marker statements, and declarations are returned joined as-is.
func PeelTag(region CodeRegion) (string, error) {
	return PeelTagWithSubs(region, nil)
}

// PeelTagWithSubs peels the region and applies the given substitutions to
// the surviving text.  Every substitution range must fall inside surviving
// text; a substitution into peeled-away scaffolding is a planning bug.
func PeelTagWithSubs(region CodeRegion, subs []Sub) (string, error) {
	chunks, err := peelChunks(region)
	if err != nil {
		return "", err
	}
	return renderChunks(region.Tree(), chunks, subs)
}

// PeelDeclsItems peels a declaration region into one text per member item
// (preceding attribute runs included), applying substitutions.
func PeelDeclsItems(region *DeclsRegion, subs []Sub) ([]string, error) {
	var out []string
	for _, item := range region.Items {
		start, end := rstree.SpanWithAttrs(item)
		text, err := renderChunks(region.tree, []chunk{{start: start, end: end}}, subsWithin(subs, start, end))
		if err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, nil
}

// IndividualizeDecls re-wraps every member that lives inside a shared
// C-linkage block in its own single-member block, so the texts can be
// embedded elsewhere without dragging sibling declarations along.  Texts is
// positionally parallel to the region's items.
func IndividualizeDecls(region *DeclsRegion, texts []string) []string {
	out := make([]string, len(texts))
	for i, item := range region.Items {
		out[i] = texts[i]
		foreign := rstree.Ancestor(item, rstree.KindForeignMod)
		if foreign == nil || rstree.SameNode(foreign, item) {
			continue
		}
		list := rstree.FirstDescendant(foreign, rstree.KindDeclarationList)
		if list == nil {
			continue
		}
		intro := region.tree.TextRange(foreign.StartByte(), list.StartByte())
		if !strings.Contains(intro, `"C"`) {
			continue
		}
		out[i] = strings.TrimRight(intro, " \t") + " {\n" + texts[i] + "\n}"
	}
	return out
}

var srcLocAttrPattern = regexp.MustCompile(`#\[c2rust::src_loc\s*=\s*"[^"]*"\]\s*`)

// PeelLocationAttrs strips c2rust location-tracking attributes from text.
func PeelLocationAttrs(text string) string {
	return srcLocAttrPattern.ReplaceAllString(text, "")
}

// chunk is one contiguous surviving span of the original file.
type chunk struct {
	start uint32
	end   uint32
	// lead is literal text emitted before the span, used to stitch peeled
	// wrappers back together.
	lead string
}

// peelChunks computes the spans of the region that survive peeling.
func peelChunks(region CodeRegion) ([]chunk, error) {
	switch r := region.(type) {
	case *ExprRegion:
		if r.Node.Type() == rstree.KindIfExpr {
			then := thenBlock(r.Node)
			if then == nil {
				return nil, fmt.Errorf("%w: guard has no live branch", ErrMalformedTag)
			}
			return []chunk{{start: then.StartByte(), end: then.EndByte()}}, nil
		}
		// Dereference wrapper: keep its text around the guard and collapse
		// only the guard itself down to the live block.
		guard := rstree.FirstDescendant(r.Node, rstree.KindIfExpr)
		if guard == nil {
			return nil, fmt.Errorf("%w: dereference wrapper has no guard", ErrMalformedTag)
		}
		then := thenBlock(guard)
		if then == nil {
			return nil, fmt.Errorf("%w: guard has no live branch", ErrMalformedTag)
		}
		return []chunk{
			{start: r.Node.StartByte(), end: guard.StartByte()},
			{start: then.StartByte(), end: then.EndByte()},
			{start: guard.EndByte(), end: r.Node.EndByte()},
		}, nil
	//
	case *StmtsRegion:
		first, last := r.First+1, r.Last-1
		if last < first {
			return nil, nil
		}
		return []chunk{{
			start: r.Parent.NamedChild(first).StartByte(),
			end:   r.Parent.NamedChild(last).EndByte(),
		}}, nil
	//
	case *DeclsRegion:
		var chunks []chunk
		for i, item := range r.Items {
			start, end := rstree.SpanWithAttrs(item)
			lead := ""
			if i > 0 {
				lead = "\n"
			}
			chunks = append(chunks, chunk{start: start, end: end, lead: lead})
		}
		return chunks, nil
	//
	default:
		panic("unknown region shape")
	}
}

// renderChunks splices substitutions into their chunks and concatenates the
// results.
func renderChunks(tree *rstree.Tree, chunks []chunk, subs []Sub) (string, error) {
	ordered := make([]Sub, len(subs))
	copy(ordered, subs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })
	//
	used := make([]bool, len(ordered))
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.lead)
		cursor := c.start
		for i, sub := range ordered {
			if sub.Start < c.start || sub.End > c.end {
				continue
			}
			if sub.Start < cursor {
				panic(fmt.Sprintf("overlapping substitutions at %d..%d", sub.Start, sub.End))
			}
			b.WriteString(tree.TextRange(cursor, sub.Start))
			b.WriteString(sub.Text)
			cursor = sub.End
			used[i] = true
		}
		b.WriteString(tree.TextRange(cursor, c.end))
	}
	for i, sub := range ordered {
		if !used[i] {
			return "", fmt.Errorf("substitution %d..%d lands outside the peeled region", sub.Start, sub.End)
		}
	}
	//
	return b.String(), nil
}

// subsWithin filters substitutions to those fully inside [start, end).
func subsWithin(subs []Sub, start, end uint32) []Sub {
	var out []Sub
	for _, sub := range subs {
		if sub.Start >= start && sub.End <= end {
			out = append(out, sub)
		}
	}
	return out
}

// thenBlock returns the guard's consequence block.
func thenBlock(guard *sitter.Node) *sitter.Node {
	return guard.ChildByFieldName("consequence")
}

// elseBranch returns the expression under the guard's else clause: a block
// for plain guards, an if-expression once a merge has chained alternatives.
func elseBranch(guard *sitter.Node) *sitter.Node {
	alt := guard.ChildByFieldName("alternative")
	if alt == nil {
		return nil
	}
	for i := 0; i < int(alt.NamedChildCount()); i++ {
		child := alt.NamedChild(i)
		if child.Type() == rstree.KindBlock || child.Type() == rstree.KindIfExpr {
			return child
		}
	}
	return nil
}

// PtrOrBaseType recovers the type witness the instrumentation buried in the
// guard's dead branch: the pointer type itself for an lvalue, its pointee
// for an rvalue.
func (s *ExprSeed) PtrOrBaseType() (string, error) {
	ptr, err := s.deadBranchPtrType()
	if err != nil {
		return "", err
	}
	if s.Tag.IsLvalue {
		return s.Tag.Tree.Text(ptr), nil
	}
	return pointeeText(s.Tag.Tree, ptr)
}

// BaseType recovers the value type of the guarded expression, looking
// through the pointer for lvalues.
func (s *ExprSeed) BaseType() (string, error) {
	ptr, err := s.deadBranchPtrType()
	if err != nil {
		return "", err
	}
	return pointeeText(s.Tag.Tree, ptr)
}

// deadBranchPtrType finds the pointer type in the guard's dead branch.
func (s *ExprSeed) deadBranchPtrType() (*sitter.Node, error) {
	alt := elseBranch(s.Guard)
	if alt == nil {
		return nil, fmt.Errorf("%w: guard at %s has no dead branch", ErrMalformedTag, s.Tag.LocBegin)
	}
	ptr := rstree.FirstDescendant(alt, rstree.KindPointerType)
	if ptr == nil {
		return nil, fmt.Errorf("%w: dead branch at %s carries no pointer type", ErrMalformedTag, s.Tag.LocBegin)
	}
	return ptr, nil
}

func pointeeText(tree *rstree.Tree, ptr *sitter.Node) (string, error) {
	inner := ptr.ChildByFieldName("type")
	if inner == nil {
		return "", fmt.Errorf("%w: pointer type %q has no pointee", ErrMalformedTag, tree.Text(ptr))
	}
	return tree.Text(inner), nil
}

// AttrSrcLoc extracts the compilation-unit position from a location-tracking
// attribute, if the attribute is one.
func AttrSrcLoc(tree *rstree.Tree, attr *sitter.Node) (LnCol, bool) {
	m := srcLocValuePattern.FindStringSubmatch(tree.Text(attr))
	if m == nil {
		return LnCol{}, false
	}
	pos, err := ParseLnCol(m[1])
	if err != nil {
		return LnCol{}, false
	}
	return pos, true
}

var srcLocValuePattern = regexp.MustCompile(`#\[c2rust::src_loc\s*=\s*"([^"]*)"\]`)

// declsInRange finds every item whose location-tracking attribute falls in
// the tag's compilation-unit range, at any nesting depth, excluding the
// tag-bearing item itself.
func declsInRange(tag *Tag, tagItem *sitter.Node) ([]*sitter.Node, error) {
	begin, err := ParseLnCol(tag.CuLnColBegin)
	if err != nil {
		return nil, fmt.Errorf("%w: tag %s: %v", ErrMalformedTag, tag.LocBegin, err)
	}
	end, err := ParseLnCol(tag.CuLnColEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: tag %s: %v", ErrMalformedTag, tag.LocBegin, err)
	}
	//
	type span struct{ start, end uint32 }
	seen := make(map[span]bool)
	var items []*sitter.Node
	//
	rstree.Visit(tag.Tree.Root(), func(n *sitter.Node) bool {
		if n.Type() != rstree.KindAttributeItem {
			return true
		}
		pos, ok := AttrSrcLoc(tag.Tree, n)
		if !ok || !pos.Within(begin, end) {
			return true
		}
		item := decoratedItem(n)
		if item == nil || rstree.SameNode(item, tagItem) {
			return true
		}
		key := span{start: item.StartByte(), end: item.EndByte()}
		if !seen[key] {
			seen[key] = true
			items = append(items, item)
		}
		return true
	})
	//
	return items, nil
}

// decoratedItem returns the item an attribute decorates: its next named
// sibling past any further attributes.
func decoratedItem(attr *sitter.Node) *sitter.Node {
	n := attr.NextNamedSibling()
	for n != nil && n.Type() == rstree.KindAttributeItem {
		n = n.NextNamedSibling()
	}
	return n
}
