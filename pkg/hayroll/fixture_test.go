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
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/require"

	"github.com/hayroll/go-hayroll/pkg/rstree"
)

// Fixtures mirror the translator's instrumentation shapes: guards around
// expressions, marker statements around statement runs, tag-bearing statics
// for declaration sets.  Literal payloads are rendered through the package's
// own encoder so the fixtures track the schema by construction.

// testPayload returns a complete invocation payload, with overrides applied.
func testPayload(over map[string]any) map[string]any {
	payload := map[string]any{
		"hayroll":       true,
		"seedType":      "invocation",
		"astKind":       "Expr",
		"begin":         true,
		"name":          "M",
		"argNames":      []any{},
		"isArg":         false,
		"isLvalue":      false,
		"canBeFn":       true,
		"isPlaceholder": false,
		"locBegin":      "a.c:1:1",
		"locEnd":        "a.c:1:20",
		"locRefBegin":   "m.h:1:1",
		"cuLnColBegin":  "",
		"cuLnColEnd":    "",
		"premise":       "",
	}
	for k, v := range over {
		payload[k] = v
	}
	return payload
}

// testLit renders a payload as byte-string literal text.
func testLit(over map[string]any) string {
	return encodeTagLiteral(testPayload(over))
}

// guardText renders the dead-branch guard an expression seed is wrapped in.
func guardText(lit, live, dead string) string {
	return fmt.Sprintf("if *(%s as *const u8 as *const libc::c_char) as libc::c_int != 0 { %s } else { %s }", lit, live, dead)
}

// markerText renders a statement-seed marker.
func markerText(lit string) string {
	return fmt.Sprintf("*(%s as *const u8 as *const libc::c_char);", lit)
}

// deadFor renders the canonical rvalue dead branch for a base type.
func deadFor(baseType string) string {
	return fmt.Sprintf("*(0 as *mut %s)", baseType)
}

func parseFixture(t *testing.T, src string) *rstree.Tree {
	t.Helper()
	tree, err := rstree.Parse([]byte(src))
	require.NoError(t, err)
	t.Cleanup(tree.Close)
	return tree
}

func extractFixture(t *testing.T, src string) (*rstree.Tree, []Seed, []*StmtsSeed) {
	t.Helper()
	tree := parseFixture(t, src)
	seeds, open, err := ExtractFile(tree, "lib.rs")
	require.NoError(t, err)
	return tree, seeds, open
}

// collectAttrItems returns every outer attribute item in document order.
func collectAttrItems(tree *rstree.Tree) []*sitter.Node {
	var items []*sitter.Node
	rstree.Visit(tree.Root(), func(n *sitter.Node) bool {
		if n.Type() == rstree.KindAttributeItem {
			items = append(items, n)
		}
		return true
	})
	return items
}

// invocationsOf runs the full front half of the pipeline over a fixture:
// extraction, folding, argument binding.
func invocationsOf(t *testing.T, src string) (*rstree.Tree, []*MacroInv) {
	t.Helper()
	tree, seeds, open := extractFixture(t, src)
	require.Empty(t, open)
	invs, err := ExtractInvocations(seeds)
	require.NoError(t, err)
	return tree, invs
}

// minInvocationSrc builds one MIN(x, y)-style invocation: a guarded
// comparison whose two argument slots each occur twice.  Location overrides
// keep multiple instances distinct within one file.
func minInvocationSrc(invLoc, arg string, baseType string) string {
	rootLit := testLit(map[string]any{
		"name":        "MIN",
		"argNames":    []any{"a", "b"},
		"locBegin":    invLoc,
		"locRefBegin": "min.h:3:9",
	})
	occ := func(name string, n int) string {
		lit := testLit(map[string]any{
			"name":        name,
			"isArg":       true,
			"locBegin":    fmt.Sprintf("%s.arg.%s.%d", invLoc, name, n),
			"locRefBegin": invLoc,
		})
		operand := arg
		if name == "b" {
			operand = arg + "2"
		}
		return "(" + guardText(lit, operand, deadFor(baseType)) + ")"
	}
	live := fmt.Sprintf("if %s < %s { %s } else { %s }", occ("a", 0), occ("b", 0), occ("a", 1), occ("b", 1))
	guard := guardText(rootLit, live, deadFor(baseType))
	return fmt.Sprintf("unsafe fn caller_%s(%s: %s, %s2: %s) -> %s {\n    %s\n}\n", arg, arg, baseType, arg, baseType, baseType, guard)
}
