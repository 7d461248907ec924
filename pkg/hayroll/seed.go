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
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/hayroll/go-hayroll/pkg/rstree"
)

var (
	// ErrUnmatchedEndTag indicates an end marker with no open seed to close.
	ErrUnmatchedEndTag = errors.New("unmatched end tag")
	// ErrUnmatchedBeginTag indicates a begin marker whose end marker never appeared.
	ErrUnmatchedBeginTag = errors.New("unmatched begin tag")
	// ErrUnknownTagShape indicates a tag whose kind/begin combination has no seed shape.
	ErrUnknownTagShape = errors.New("unknown tag shape")
)

// Seed is a tagged code region recovered from one or two marker tags.  It is
// a closed sum: the only implementations are ExprSeed, StmtsSeed and
// DeclsSeed, and consumers dispatch by type switch.
type Seed interface {
	// Begin returns the seed's primary (begin) tag.
	Begin() *Tag
	// isSeed keeps the sum closed.
	isSeed()
}

// ExprSeed is a single guarded expression.  Guard is the if-expression whose
// condition carries the tag literal; its consequence block is the live text
// and its dead alternative carries the type witness.
type ExprSeed struct {
	Tag   *Tag
	Guard *sitter.Node
}

// Begin returns the seed's tag.
func (s *ExprSeed) Begin() *Tag { return s.Tag }

func (s *ExprSeed) isSeed() {}

// StmtsSeed is a contiguous run of statements delimited by two marker
// statements.  While the end marker has not been seen yet, TagEnd aliases
// TagBegin and EndStmt aliases BeginStmt.
type StmtsSeed struct {
	TagBegin *Tag
	TagEnd   *Tag
	//
	BeginStmt *sitter.Node
	EndStmt   *sitter.Node
}

// Begin returns the seed's begin tag.
func (s *StmtsSeed) Begin() *Tag { return s.TagBegin }

// IsOpen reports whether the seed is still waiting for its end marker.
func (s *StmtsSeed) IsOpen() bool { return s.TagEnd == s.TagBegin }

func (s *StmtsSeed) isSeed() {}

// DeclsSeed is a scattered set of top-level declarations.  TagItem is the
// item carrying the tag literal; the member declarations are found by
// matching per-item location attributes against the tag's line range.
type DeclsSeed struct {
	Tag     *Tag
	TagItem *sitter.Node
}

// Begin returns the seed's tag.
func (s *DeclsSeed) Begin() *Tag { return s.Tag }

func (s *DeclsSeed) isSeed() {}

// SyntheticEndMarkerText renders the begin marker statement with its literal
// swapped for an end-flavoured copy of the tag.  The repair pass inserts this
// text to close a span whose original end marker the translator dropped.
func (s *StmtsSeed) SyntheticEndMarkerText() string {
	stmt := s.TagBegin.Tree.Text(s.BeginStmt)
	base := s.BeginStmt.StartByte()
	litStart := s.TagBegin.StartByte() - base
	litEnd := s.TagBegin.EndByte() - base
	return stmt[:litStart] + s.TagBegin.WithUpdatedBegin(false) + stmt[litEnd:]
}

// CollectTags walks a parsed file in document order and decodes every seed
// tag literal it contains.
func CollectTags(tree *rstree.Tree, file string) ([]*Tag, error) {
	var tags []*Tag
	var errs []error
	//
	rstree.Visit(tree.Root(), func(n *sitter.Node) bool {
		if n.Type() != rstree.KindStringLiteral {
			return true
		}
		tag, err := ParseTag(tree, file, n)
		if err != nil {
			errs = append(errs, err)
		} else if tag != nil {
			tags = append(tags, tag)
		}
		return true
	})
	//
	return tags, errors.Join(errs...)
}

// stmtsKey identifies the open-seed stack an end marker closes.  Pairing is
// keyed explicitly rather than by scanning the accumulator backwards, but the
// per-key stack keeps the most-recent-open discipline for repeated locations.
type stmtsKey struct {
	locBegin string
	seedType SeedType
}

// ExtractFile decodes every tag in a file and folds them, in document order,
// into seeds.  It returns all seeds (begin order) plus the subset of
// statement seeds which never met their end marker; callers that cannot
// tolerate open seeds follow up with RequireAllClosed.
func ExtractFile(tree *rstree.Tree, file string) ([]Seed, []*StmtsSeed, error) {
	tags, err := CollectTags(tree, file)
	if err != nil {
		return nil, nil, err
	}
	//
	var seeds []Seed
	open := make(map[stmtsKey][]*StmtsSeed)
	//
	for _, tag := range tags {
		switch {
		case tag.ASTKind == KindExpr:
			if !tag.Begin {
				return nil, nil, fmt.Errorf("%w: end-flavoured Expr tag %s at %s", ErrUnknownTagShape, tag.LocBegin, file)
			}
			guard := rstree.Ancestor(tag.Literal, rstree.KindIfExpr)
			if guard == nil {
				return nil, nil, fmt.Errorf("%w: Expr tag %s at %s has no guard", ErrMalformedTag, tag.LocBegin, file)
			}
			seeds = append(seeds, &ExprSeed{Tag: tag, Guard: guard})
		//
		case tag.ASTKind.IsStmtLike() && tag.Begin:
			stmt := markerStmt(tag)
			if stmt == nil {
				return nil, nil, fmt.Errorf("%w: marker tag %s at %s is not a statement", ErrMalformedTag, tag.LocBegin, file)
			}
			seed := &StmtsSeed{TagBegin: tag, TagEnd: tag, BeginStmt: stmt, EndStmt: stmt}
			key := stmtsKey{locBegin: tag.LocBegin, seedType: tag.SeedType}
			open[key] = append(open[key], seed)
			seeds = append(seeds, seed)
		//
		case tag.ASTKind.IsDeclLike():
			if !tag.Begin {
				return nil, nil, fmt.Errorf("%w: end-flavoured Decls tag %s at %s", ErrUnknownTagShape, tag.LocBegin, file)
			}
			seeds = append(seeds, &DeclsSeed{Tag: tag, TagItem: tagItem(tag)})
		//
		case !tag.Begin:
			// End markers close the most recent open statement seed for their
			// location, whatever kind the marker itself spells.
			key := stmtsKey{locBegin: tag.LocBegin, seedType: tag.SeedType}
			stack := open[key]
			if len(stack) == 0 {
				return nil, nil, fmt.Errorf("%w: %s at %s", ErrUnmatchedEndTag, tag.LocBegin, file)
			}
			seed := stack[len(stack)-1]
			open[key] = stack[:len(stack)-1]
			//
			stmt := markerStmt(tag)
			if stmt == nil {
				return nil, nil, fmt.Errorf("%w: marker tag %s at %s is not a statement", ErrMalformedTag, tag.LocBegin, file)
			}
			if !rstree.SameNode(stmt.Parent(), seed.BeginStmt.Parent()) {
				return nil, nil, fmt.Errorf("%w: %s at %s closes in a different statement list", ErrUnmatchedEndTag, tag.LocBegin, file)
			}
			seed.TagEnd = tag
			seed.EndStmt = stmt
		//
		default:
			return nil, nil, fmt.Errorf("%w: %s/%s at %s", ErrUnknownTagShape, tag.SeedType, tag.ASTKind, file)
		}
	}
	//
	var stillOpen []*StmtsSeed
	for _, seed := range seeds {
		if stmts, ok := seed.(*StmtsSeed); ok && stmts.IsOpen() {
			stillOpen = append(stillOpen, stmts)
		}
	}
	//
	return seeds, stillOpen, nil
}

// RequireAllClosed converts open statement seeds into the fatal condition
// every pass other than repair treats them as.
func RequireAllClosed(file string, open []*StmtsSeed) error {
	var errs []error
	for _, seed := range open {
		errs = append(errs, fmt.Errorf("%w: %s at %s", ErrUnmatchedBeginTag, seed.TagBegin.LocBegin, file))
	}
	return errors.Join(errs...)
}

// markerStmt returns the expression statement a Stmts marker literal lives
// in, or nil if the literal is not in statement position.
func markerStmt(tag *Tag) *sitter.Node {
	return rstree.Ancestor(tag.Literal, rstree.KindExprStmt)
}

// tagItem returns the top-level item holding a Decls tag literal.
func tagItem(tag *Tag) *sitter.Node {
	item := tag.Literal
	for item.Parent() != nil && item.Parent().Type() != rstree.KindSourceFile {
		item = item.Parent()
	}
	return item
}
