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
	"strings"
)

// ErrUnresolvedArgument indicates an argument tag whose owning invocation
// root could not be found, or whose name the root never declared.
var ErrUnresolvedArgument = errors.New("unresolved argument binding")

// MacroInv is one macro call site: the root seed covering the expansion and
// every argument occurrence bound to its declared slot.  Slot order follows
// the declaration's argument list; occurrences within a slot keep document
// order.
type MacroInv struct {
	Seed     Seed
	ArgNames []string
	Args     map[string][]Seed
}

// Tag returns the invocation root's tag.
func (inv *MacroInv) Tag() *Tag { return inv.Seed.Begin() }

// Name returns the original macro's name.
func (inv *MacroInv) Name() string { return inv.Tag().Name }

// invKey identifies an invocation root.  The file is part of the key
// because the same header-located expansion can appear in several
// compilation units of one workspace; an argument always lives in the same
// file as its root.
type invKey struct {
	file string
	loc  string
}

// ExtractInvocations builds invocation structures from extracted seeds.
// Every root registers under its own location first, then argument seeds
// find their root through the location their tag refers back to; a nested
// statement-shaped argument completes before its root does, so binding
// cannot follow completion order.  A dangling argument is fatal.
func ExtractInvocations(seeds []Seed) ([]*MacroInv, error) {
	var invs []*MacroInv
	byLoc := make(map[invKey]*MacroInv)
	//
	for _, seed := range seeds {
		tag := seed.Begin()
		if tag.SeedType != SeedInvocation || tag.IsArg {
			continue
		}
		inv := &MacroInv{
			Seed:     seed,
			ArgNames: tag.ArgNames,
			Args:     make(map[string][]Seed, len(tag.ArgNames)),
		}
		for _, name := range tag.ArgNames {
			inv.Args[name] = nil
		}
		invs = append(invs, inv)
		byLoc[invKey{file: tag.File, loc: tag.LocBegin}] = inv
	}
	//
	for _, seed := range seeds {
		tag := seed.Begin()
		if tag.SeedType != SeedInvocation || !tag.IsArg {
			continue
		}
		root, ok := byLoc[invKey{file: tag.File, loc: tag.LocRefBegin}]
		if !ok {
			return nil, fmt.Errorf("%w: argument %s at %s refers to unknown invocation %s",
				ErrUnresolvedArgument, tag.Name, tag.LocBegin, tag.LocRefBegin)
		}
		if _, declared := root.Args[tag.Name]; !declared {
			return nil, fmt.Errorf("%w: invocation %s declares no argument %q",
				ErrUnresolvedArgument, root.Tag().LocBegin, tag.Name)
		}
		root.Args[tag.Name] = append(root.Args[tag.Name], seed)
	}
	//
	return invs, nil
}

// Signature mangles the invocation's value and argument shapes into the
// string that partitions call sites into clusters.  Declaration-shaped
// invocations mangle to nothing.  When the translator rules out a callable,
// the mangle keeps only shapes, so differently-typed call sites of the same
// macro share one template.
func (inv *MacroInv) Signature() (string, error) {
	tag := inv.Tag()
	if tag.ASTKind.IsDeclLike() {
		return "", nil
	}
	//
	var parts []string
	if !tag.CanBeFn {
		switch inv.Seed.(type) {
		case *ExprSeed:
			parts = append(parts, "expr")
		case *StmtsSeed:
			parts = append(parts, "stmts")
		}
		for _, name := range inv.ArgNames {
			parts = append(parts, slotShape(inv.Args[name]))
		}
		return strings.Join(parts, "_"), nil
	}
	//
	if expr, ok := inv.Seed.(*ExprSeed); ok {
		base, err := expr.BaseType()
		if err != nil {
			return "", err
		}
		parts = append(parts, sanitizeType(base))
	}
	for _, name := range inv.ArgNames {
		occurrences := inv.Args[name]
		if anyStmtShaped(occurrences) {
			parts = append(parts, "stmt")
			continue
		}
		if len(occurrences) == 0 {
			parts = append(parts, "")
			continue
		}
		first, ok := occurrences[0].(*ExprSeed)
		if !ok {
			parts = append(parts, "")
			continue
		}
		base, err := first.BaseType()
		if err != nil {
			return "", err
		}
		parts = append(parts, sanitizeType(base))
	}
	//
	return strings.Join(parts, "_"), nil
}

// NameWithSignature is the synthesized construct's name: the macro name,
// suffixed by the signature when there is one.
func (inv *MacroInv) NameWithSignature() (string, error) {
	sig, err := inv.Signature()
	if err != nil {
		return "", err
	}
	if sig == "" {
		return inv.Name(), nil
	}
	return inv.Name() + "_" + sig, nil
}

// sanitizeType reduces a textual type to its last path segment, keeping only
// identifier characters.
func sanitizeType(raw string) string {
	segments := strings.Split(raw, "::")
	last := segments[len(segments)-1]
	var b strings.Builder
	for _, c := range last {
		if c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// slotShape names a slot's shape for the template mangle.
func slotShape(occurrences []Seed) string {
	if anyStmtShaped(occurrences) {
		return "stmt"
	}
	return "expr"
}

func anyStmtShaped(occurrences []Seed) bool {
	for _, occ := range occurrences {
		if _, ok := occ.(*StmtsSeed); ok {
			return true
		}
	}
	return false
}

// seedsStructurallyCompatible reports whether two seeds share a region
// shape.
func seedsStructurallyCompatible(a, b Seed) bool {
	switch a.(type) {
	case *ExprSeed:
		_, ok := b.(*ExprSeed)
		return ok
	case *StmtsSeed:
		_, ok := b.(*StmtsSeed)
		return ok
	case *DeclsSeed:
		_, ok := b.(*DeclsSeed)
		return ok
	default:
		return false
	}
}

// seedsTypeCompatible adds, for expression pairs, agreement on the textual
// base type.
func seedsTypeCompatible(a, b Seed) (bool, error) {
	if !seedsStructurallyCompatible(a, b) {
		return false, nil
	}
	ea, ok := a.(*ExprSeed)
	if !ok {
		return true, nil
	}
	eb := b.(*ExprSeed)
	ta, err := ea.BaseType()
	if err != nil {
		return false, err
	}
	tb, err := eb.BaseType()
	if err != nil {
		return false, err
	}
	return ta == tb, nil
}

// argsInternallyCompatible checks every slot's occurrences against the
// slot's first occurrence.
func (inv *MacroInv) argsInternallyCompatible(compat func(a, b Seed) (bool, error)) (bool, error) {
	for _, name := range inv.ArgNames {
		occurrences := inv.Args[name]
		for _, occ := range occurrences {
			ok, err := compat(occurrences[0], occ)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

// StructurallyCompatibleWith reports whether two invocations could be call
// sites of one template: bodies share a shape, each side's slots are
// internally consistent, and corresponding slots share a shape.  Empty slots
// are wildcards.
func (inv *MacroInv) StructurallyCompatibleWith(other *MacroInv) (bool, error) {
	structural := func(a, b Seed) (bool, error) { return seedsStructurallyCompatible(a, b), nil }
	return inv.compatibleWith(other, structural)
}

// TypeCompatibleWith additionally demands agreement on expression base
// types, slot by slot and on the invocation's own value.
func (inv *MacroInv) TypeCompatibleWith(other *MacroInv) (bool, error) {
	return inv.compatibleWith(other, seedsTypeCompatible)
}

func (inv *MacroInv) compatibleWith(other *MacroInv, compat func(a, b Seed) (bool, error)) (bool, error) {
	ok, err := compat(inv.Seed, other.Seed)
	if err != nil || !ok {
		return false, err
	}
	if ok, err = inv.argsInternallyCompatible(compat); err != nil || !ok {
		return false, err
	}
	if ok, err = other.argsInternallyCompatible(compat); err != nil || !ok {
		return false, err
	}
	if len(inv.ArgNames) != len(other.ArgNames) {
		return false, nil
	}
	//
	for i, name := range inv.ArgNames {
		mine := inv.Args[name]
		theirs := other.Args[other.ArgNames[i]]
		if len(mine) == 0 || len(theirs) == 0 {
			// A slot nothing is bound to constrains nothing.
			continue
		}
		if ok, err = compat(mine[0], theirs[0]); err != nil || !ok {
			return false, err
		}
	}
	//
	return true, nil
}

// ArgsRequireLvalue computes, slot by slot, whether every occurrence at this
// call site is an lvalue.  An empty slot imposes no constraint and stays
// true.
func (inv *MacroInv) ArgsRequireLvalue() []bool {
	out := make([]bool, len(inv.ArgNames))
	for i, name := range inv.ArgNames {
		out[i] = true
		for _, occ := range inv.Args[name] {
			if !occ.Begin().IsLvalue {
				out[i] = false
				break
			}
		}
	}
	return out
}
