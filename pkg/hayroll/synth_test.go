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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// soleCluster folds a fixture down to its single cluster.
func soleCluster(t *testing.T, src string) *MacroCluster {
	t.Helper()
	_, invs := invocationsOf(t, src)
	db, err := BuildMacroDB(invs)
	require.NoError(t, err)
	require.Equal(t, 1, db.Len())
	return db.Cluster(db.Keys()[0])
}

func Test_FnDef_Min(t *testing.T) {
	cluster := soleCluster(t, minInvocationSrc("f.c:10:5", "x", "libc::c_int"))
	diags := &Diagnostics{}
	//
	def, err := FnDef(cluster, diags)
	require.NoError(t, err)
	assert.Equal(t,
		"unsafe fn MIN_c_int_c_int_c_int(a: libc::c_int, b: libc::c_int) -> libc::c_int {\n"+
			"    { if (a) < (b) { (a) } else { (b) } }\n"+
			"}",
		def)
	assert.Equal(t, 0, diags.Len())
}

func Test_CallExprText_Min(t *testing.T) {
	cluster := soleCluster(t, minInvocationSrc("f.c:10:5", "x", "libc::c_int"))
	diags := &Diagnostics{}
	//
	call, err := CallExprText(cluster.First(), cluster.ArgsRequireLvalue(), diags)
	require.NoError(t, err)
	assert.Equal(t, "MIN_c_int_c_int_c_int({ x }, { x2 })", call)
}

// getSrc is a GET(p) call site whose argument is bound as an lvalue and read
// through a dereference inside the expansion.
func getSrc(loc string) string {
	root := testLit(map[string]any{
		"name":        "GET",
		"argNames":    []any{"p"},
		"locBegin":    loc,
		"locRefBegin": "get.h:4:2",
	})
	occ := testLit(map[string]any{
		"name":        "p",
		"isArg":       true,
		"isLvalue":    true,
		"locBegin":    loc + ".arg.p.0",
		"locRefBegin": loc,
	})
	live := "*(" + guardText(occ, "&mut *q", "0 as *mut libc::c_int") + ")"
	return "unsafe fn g(q: *mut libc::c_int) -> libc::c_int {\n    " +
		guardText(root, live, deadFor("libc::c_int")) + "\n}\n"
}

func Test_FnDef_PointerConvention(t *testing.T) {
	cluster := soleCluster(t, getSrc("f.c:14:5"))
	require.Equal(t, []bool{true}, cluster.ArgsRequireLvalue())
	diags := &Diagnostics{}
	//
	def, err := FnDef(cluster, diags)
	require.NoError(t, err)
	assert.Equal(t,
		"unsafe fn GET_c_int_c_int(p: *mut libc::c_int) -> libc::c_int {\n"+
			"    { *(p) }\n"+
			"}",
		def)
	//
	// The call keeps the argument's pointer, not its pointee.
	call, err := CallExprText(cluster.First(), cluster.ArgsRequireLvalue(), diags)
	require.NoError(t, err)
	assert.Equal(t, "GET_c_int_c_int({ &mut *q })", call)
}

// slotSrc is a SLOT() call site whose whole expansion is an lvalue.
func slotSrc(loc string) string {
	root := testLit(map[string]any{
		"name":        "SLOT",
		"isLvalue":    true,
		"locBegin":    loc,
		"locRefBegin": "slot.h:9:1",
	})
	return "static mut COUNTER: libc::c_int = 0;\n" +
		"unsafe fn s() {\n    *(" + guardText(root, "&mut COUNTER", "0 as *mut libc::c_int") + ") = 5;\n}\n"
}

func Test_FnDef_LvalueMacroReturnsPointer(t *testing.T) {
	cluster := soleCluster(t, slotSrc("f.c:18:5"))
	diags := &Diagnostics{}
	//
	def, err := FnDef(cluster, diags)
	require.NoError(t, err)
	assert.Equal(t,
		"unsafe fn SLOT_c_int() -> *mut libc::c_int {\n"+
			"    { &mut COUNTER }\n"+
			"}",
		def)
	//
	call, err := CallExprText(cluster.First(), cluster.ArgsRequireLvalue(), diags)
	require.NoError(t, err)
	assert.Equal(t, "*SLOT_c_int()", call)
}

func Test_FnDef_EmptySlotOmitted(t *testing.T) {
	cluster := soleCluster(t, minPartialSrc("f.c:40:5"))
	diags := &Diagnostics{}
	//
	def, err := FnDef(cluster, diags)
	require.NoError(t, err)
	assert.Equal(t,
		"unsafe fn MIN_c_int_c_int_(a: libc::c_int) -> libc::c_int {\n"+
			"    { if (a) < 7 { 1 } else { 2 } }\n"+
			"}",
		def)
	require.Equal(t, 1, diags.Len())
	assert.Contains(t, diags.Entries()[0], "never used")
	//
	call, err := CallExprText(cluster.First(), cluster.ArgsRequireLvalue(), diags)
	require.NoError(t, err)
	assert.Equal(t, "MIN_c_int_c_int_({ u })", call)
}

func Test_MacroRulesDef_Expr(t *testing.T) {
	root := testLit(map[string]any{"name": "ID", "argNames": []any{"a"}, "canBeFn": false, "locBegin": "f.c:12:1", "locRefBegin": "id.h:1:1"})
	occ := testLit(map[string]any{"name": "a", "isArg": true, "locBegin": "f.c:12:1.arg.a.0", "locRefBegin": "f.c:12:1"})
	src := "unsafe fn f(v: libc::c_int) -> libc::c_int {\n    " +
		guardText(root, "("+guardText(occ, "v", deadFor("libc::c_int"))+")", deadFor("libc::c_int")) + "\n}\n"
	cluster := soleCluster(t, src)
	diags := &Diagnostics{}
	//
	def, err := MacroRulesDef(cluster, diags)
	require.NoError(t, err)
	assert.Equal(t,
		"macro_rules! ID_expr_expr\n"+
			"{\n"+
			"    ($a:expr) => {\n"+
			"    { ($a) }\n"+
			"    }\n"+
			"}",
		def)
	//
	call, err := MacroCallText(cluster.First(), diags)
	require.NoError(t, err)
	assert.Equal(t, "ID_expr_expr!({ v })", call)
}

// repeatSrc is a statement-shaped REPEAT(body) call site whose argument is
// itself a statement run.
func repeatSrc(loc string) string {
	root := testLit(map[string]any{
		"name":        "REPEAT",
		"argNames":    []any{"body"},
		"astKind":     "Stmts",
		"canBeFn":     false,
		"locBegin":    loc,
		"locRefBegin": "repeat.h:7:1",
	})
	rootEnd := testLit(map[string]any{
		"name":        "REPEAT",
		"argNames":    []any{"body"},
		"astKind":     "Stmts",
		"canBeFn":     false,
		"begin":       false,
		"locBegin":    loc,
		"locRefBegin": "repeat.h:7:1",
	})
	occ := testLit(map[string]any{
		"name":        "body",
		"isArg":       true,
		"astKind":     "Stmts",
		"locBegin":    loc + ".arg.body.0",
		"locRefBegin": loc,
	})
	occEnd := testLit(map[string]any{
		"name":        "body",
		"isArg":       true,
		"astKind":     "Stmts",
		"begin":       false,
		"locBegin":    loc + ".arg.body.0",
		"locRefBegin": loc,
	})
	return stmtsSrc(
		markerText(root),
		markerText(occ),
		"let mut t: i32 = 0;",
		markerText(occEnd),
		markerText(rootEnd),
	)
}

func Test_MacroRulesDef_StmtsWithStmtSlot(t *testing.T) {
	cluster := soleCluster(t, repeatSrc("f.c:50:1"))
	diags := &Diagnostics{}
	//
	def, err := MacroRulesDef(cluster, diags)
	require.NoError(t, err)
	assert.Equal(t,
		"macro_rules! REPEAT_stmts_stmt\n"+
			"{\n"+
			"    ($body:stmt) => {\n"+
			"    $body\n"+
			"    }\n"+
			"}",
		def)
	//
	call, err := MacroCallText(cluster.First(), diags)
	require.NoError(t, err)
	assert.Equal(t, "REPEAT_stmts_stmt!(let mut t: i32 = 0;);", call)
}

func Test_MacroRulesDef_Decls(t *testing.T) {
	_, seeds, _ := extractFixture(t, declsSrc())
	invs, err := ExtractInvocations(seeds)
	require.NoError(t, err)
	db, err := BuildMacroDB(invs)
	require.NoError(t, err)
	cluster := db.Cluster(db.Keys()[0])
	diags := &Diagnostics{}
	//
	def, err := MacroRulesDef(cluster, diags)
	require.NoError(t, err)
	assert.Equal(t,
		"macro_rules! DEFS\n"+
			"{\n"+
			"    () => {\n"+
			"    static mut COUNT: libc::c_int = 0;\nunsafe fn helper() {}\n"+
			"    }\n"+
			"}",
		def)
	//
	call, err := MacroCallText(cluster.First(), diags)
	require.NoError(t, err)
	assert.Equal(t, "DEFS!();", call)
}

func Test_MacroCallText_EmptySlotFiller(t *testing.T) {
	_, invs := invocationsOf(t, minPartialSrc("f.c:40:5"))
	diags := &Diagnostics{}
	//
	call, err := MacroCallText(invs[0], diags)
	require.NoError(t, err)
	assert.Equal(t, "MIN_c_int_c_int_!({ u }, ())", call)
	require.Equal(t, 1, diags.Len())
	assert.Contains(t, diags.Entries()[0], "unit filler")
}
