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
	"strings"
)

// FnDef renders the callable replacing a function-ready cluster.  Parameter
// types follow the cluster-wide calling convention: pointer for slots every
// call site binds to lvalues, value otherwise.  A declared-but-never-bound
// slot is omitted with a diagnostic.
func FnDef(c *MacroCluster, diags *Diagnostics) (string, error) {
	inv := c.First()
	requires := c.ArgsRequireLvalue()
	name, err := inv.NameWithSignature()
	if err != nil {
		return "", err
	}
	//
	ret := ""
	if expr, ok := inv.Seed.(*ExprSeed); ok {
		t, err := expr.PtrOrBaseType()
		if err != nil {
			return "", err
		}
		ret = " -> " + t
	}
	//
	var params []string
	for i, argName := range inv.ArgNames {
		occurrences := inv.Args[argName]
		if len(occurrences) == 0 {
			diags.Warnf("macro %s: argument %s is never used in macro", name, argName)
			continue
		}
		first, ok := occurrences[0].(*ExprSeed)
		if !ok {
			return "", fmt.Errorf("macro %s: argument %s is not expression-shaped", name, argName)
		}
		var t string
		if requires[i] {
			t, err = first.PtrOrBaseType()
		} else {
			t, err = first.BaseType()
		}
		if err != nil {
			return "", err
		}
		params = append(params, argName+": "+t)
	}
	//
	body, err := bodyText(inv, false, func(i int) bool { return !requires[i] }, func(argName string) string { return argName })
	if err != nil {
		return "", err
	}
	//
	return fmt.Sprintf("unsafe fn %s(%s)%s {\n    %s\n}", name, strings.Join(params, ", "), ret, body), nil
}

// CallExprText renders the call expression (or call statement) replacing one
// call site of a function-ready cluster.  Lvalue-valued macros call through
// a pointer, so the call gains a dereference.
func CallExprText(inv *MacroInv, requires []bool, diags *Diagnostics) (string, error) {
	name, err := inv.NameWithSignature()
	if err != nil {
		return "", err
	}
	//
	var args []string
	for i, argName := range inv.ArgNames {
		occurrences := inv.Args[argName]
		if len(occurrences) == 0 {
			diags.Warnf("macro %s at %s: argument %s is never used; omitting it from the call", name, inv.Tag().LocBegin, argName)
			continue
		}
		region, err := RawRegion(occurrences[0], !requires[i])
		if err != nil {
			return "", err
		}
		text, err := PeelTag(region)
		if err != nil {
			return "", err
		}
		args = append(args, text)
	}
	//
	call := fmt.Sprintf("%s(%s)", name, strings.Join(args, ", "))
	if inv.Tag().IsLvalue {
		call = "*" + call
	}
	if _, ok := inv.Seed.(*ExprSeed); !ok {
		call += ";"
	}
	return call, nil
}

// MacroRulesDef renders the template construct for a cluster that is only
// structurally compatible.  Parameters are typed expr or stmt from the first
// invocation's occurrences; a never-bound slot defaults to expr.
func MacroRulesDef(c *MacroCluster, diags *Diagnostics) (string, error) {
	inv := c.First()
	name, err := inv.NameWithSignature()
	if err != nil {
		return "", err
	}
	//
	var params []string
	for _, argName := range inv.ArgNames {
		occurrences := inv.Args[argName]
		kind := "expr"
		if len(occurrences) > 0 {
			switch occurrences[0].(type) {
			case *ExprSeed:
			case *StmtsSeed:
				kind = "stmt"
			default:
				return "", fmt.Errorf("macro %s: argument %s is declaration-shaped", name, argName)
			}
		}
		params = append(params, "$"+argName+":"+kind)
	}
	//
	var body string
	switch seed := inv.Seed.(type) {
	case *ExprSeed, *StmtsSeed:
		body, err = bodyText(inv, true, func(int) bool { return true }, func(argName string) string { return "$" + argName })
		if err != nil {
			return "", err
		}
	case *DeclsSeed:
		region, err := RawRegion(seed, true)
		if err != nil {
			return "", err
		}
		items, err := PeelDeclsItems(region.(*DeclsRegion), nil)
		if err != nil {
			return "", err
		}
		items = IndividualizeDecls(region.(*DeclsRegion), items)
		for i := range items {
			items[i] = PeelLocationAttrs(items[i])
		}
		body = strings.Join(items, "\n")
	}
	//
	return fmt.Sprintf("macro_rules! %s\n{\n    (%s) => {\n    %s\n    }\n}", name, strings.Join(params, ", "), body), nil
}

// MacroCallText renders the template invocation replacing one call site.
// Operands are the call site's own argument texts, scaffolding peeled; a
// never-bound slot passes a unit filler so the template's arity still
// matches.
func MacroCallText(inv *MacroInv, diags *Diagnostics) (string, error) {
	name, err := inv.NameWithSignature()
	if err != nil {
		return "", err
	}
	//
	var args []string
	for _, argName := range inv.ArgNames {
		occurrences := inv.Args[argName]
		if len(occurrences) == 0 {
			diags.Warnf("macro %s at %s: argument %s is never used; passing a unit filler", name, inv.Tag().LocBegin, argName)
			args = append(args, "()")
			continue
		}
		region, err := RawRegion(occurrences[0], true)
		if err != nil {
			return "", err
		}
		text, err := PeelTag(region)
		if err != nil {
			return "", err
		}
		args = append(args, text)
	}
	//
	call := fmt.Sprintf("%s!(%s)", name, strings.Join(args, ", "))
	if _, ok := inv.Seed.(*ExprSeed); !ok {
		call += ";"
	}
	return call, nil
}

// bodyText peels the invocation's own region and swaps every bound argument
// occurrence for a parameter reference.  withDerefAt controls how much of an
// lvalue occurrence the reference replaces: the occurrence's dereference
// survives when the parameter is a pointer and is consumed by the reference
// when the parameter is a value.
func bodyText(inv *MacroInv, withDeref bool, withDerefAt func(int) bool, paramRef func(string) string) (string, error) {
	region, err := RawRegion(inv.Seed, withDeref)
	if err != nil {
		return "", err
	}
	//
	var subs []Sub
	for i, argName := range inv.ArgNames {
		for _, occ := range inv.Args[argName] {
			occRegion, err := RawRegion(occ, withDerefAt(i))
			if err != nil {
				return "", err
			}
			start, end := FlattenToRange(occRegion)
			subs = append(subs, Sub{Start: start, End: end, Text: paramRef(argName)})
		}
	}
	//
	return PeelTagWithSubs(region, subs)
}
