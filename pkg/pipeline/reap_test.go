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
package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hayroll/go-hayroll/pkg/hayroll"
)

func Test_Reap_SharedFunctionAcrossCallSites(t *testing.T) {
	ws := scratchCrate(t, map[string]string{
		"src/lib.rs": minInvocationSrc("caller_one", "a.c:10:5", "min.h:3:9", "f32") +
			"\n" + minInvocationSrc("caller_two", "a.c:20:5", "min.h:3:9", "f32"),
	})
	diags := &hayroll.Diagnostics{}
	//
	require.NoError(t, Reap(ws, false, diags))
	//
	src := srcOf(ws, "src/lib.rs")
	assert.Equal(t, 1, strings.Count(src, "unsafe fn MIN_f32_f32_f32(a: f32, b: f32) -> f32 {"))
	assert.Equal(t, 2, strings.Count(src, "MIN_f32_f32_f32({ p }, { q })"))
	assert.NotContains(t, src, "hayroll")
	assert.Equal(t, 0, diags.Len())
	// Nothing was gated, so the manifest gains no feature table.
	assert.NotContains(t, manifestOf(t, ws), "[features]")
}

func Test_Reap_SplitsClustersByValueType(t *testing.T) {
	ws := scratchCrate(t, map[string]string{
		"src/lib.rs": minInvocationSrc("as_f32", "a.c:10:5", "min.h:3:9", "f32") +
			"\n" + minInvocationSrc("as_f64", "b.c:12:5", "min.h:3:9", "f64"),
	})
	diags := &hayroll.Diagnostics{}
	//
	require.NoError(t, Reap(ws, false, diags))
	//
	src := srcOf(ws, "src/lib.rs")
	assert.Contains(t, src, "unsafe fn MIN_f32_f32_f32(a: f32, b: f32) -> f32 {")
	assert.Contains(t, src, "unsafe fn MIN_f64_f64_f64(a: f64, b: f64) -> f64 {")
	assert.Equal(t, 1, strings.Count(src, "MIN_f32_f32_f32({ p }, { q })"))
	assert.Equal(t, 1, strings.Count(src, "MIN_f64_f64_f64({ p }, { q })"))
	assert.Equal(t, 0, diags.Len())
}

func Test_Reap_GatesStatementRunOnPremise(t *testing.T) {
	begin := markerText(condLit(map[string]any{"astKind": "Stmts", "locBegin": "c.c:5:1"}))
	end := markerText(condLit(map[string]any{"astKind": "Stmts", "locBegin": "c.c:5:1", "begin": false}))
	ws := scratchCrate(t, map[string]string{
		"src/lib.rs": "unsafe fn run(mut x: i32) -> i32 {\n" +
			"    " + begin + "\n" +
			"    x += 1;\n" +
			"    x += 2;\n" +
			"    " + end + "\n" +
			"    return x;\n" +
			"}\n",
	})
	diags := &hayroll.Diagnostics{}
	//
	require.NoError(t, Reap(ws, false, diags))
	//
	src := srcOf(ws, "src/lib.rs")
	assert.Contains(t, src, "#[cfg(feature = \"FOO\")]\n    (x += 1);")
	assert.Contains(t, src, "#[cfg(feature = \"FOO\")]\n    (x += 2);")
	assert.Contains(t, src, "return x;")
	assert.NotContains(t, src, "hayroll")
	manifest := manifestOf(t, ws)
	assert.Contains(t, manifest, "[features]")
	assert.Contains(t, manifest, "FOO")
}

func Test_Reap_GatesNestedConditionals(t *testing.T) {
	inner := guardText(condLit(map[string]any{"premise": `feature = "BAR"`, "locBegin": "c.c:8:4"}),
		"10 as i32", "20 as i32")
	outer := guardText(condLit(map[string]any{"locBegin": "c.c:7:2"}),
		"("+inner+")", "30 as i32")
	ws := scratchCrate(t, map[string]string{
		"src/lib.rs": "unsafe fn nested() -> i32 {\n    " + outer + "\n}\n",
	})
	diags := &hayroll.Diagnostics{}
	//
	require.NoError(t, Reap(ws, false, diags))
	//
	src := srcOf(ws, "src/lib.rs")
	assert.Equal(t, 1, strings.Count(src, "if cfg!(feature = \"FOO\")"))
	assert.Equal(t, 1, strings.Count(src, "if cfg!(feature = \"BAR\")"))
	assert.NotContains(t, src, "hayroll")
	assert.Equal(t, 0, diags.Len())
	manifest := manifestOf(t, ws)
	assert.Contains(t, manifest, "FOO")
	assert.Contains(t, manifest, "BAR")
}

func Test_Reap_SecondRunLeavesSourceAlone(t *testing.T) {
	begin := markerText(condLit(map[string]any{"astKind": "Stmts", "locBegin": "c.c:5:1"}))
	end := markerText(condLit(map[string]any{"astKind": "Stmts", "locBegin": "c.c:5:1", "begin": false}))
	ws := scratchCrate(t, map[string]string{
		"src/lib.rs": minInvocationSrc("caller", "a.c:10:5", "min.h:3:9", "f32") +
			"\nunsafe fn run(mut x: i32) -> i32 {\n" +
			"    " + begin + "\n" +
			"    x += 1;\n" +
			"    " + end + "\n" +
			"    return x;\n" +
			"}\n",
	})
	require.NoError(t, Reap(ws, false, &hayroll.Diagnostics{}))
	first := srcOf(ws, "src/lib.rs")
	manifest := manifestOf(t, ws)
	//
	require.NoError(t, Reap(ws, false, &hayroll.Diagnostics{}))
	//
	assert.Equal(t, first, srcOf(ws, "src/lib.rs"))
	assert.Equal(t, manifest, manifestOf(t, ws))
}

func Test_Reap_RepairsTornStatementRun(t *testing.T) {
	begin := markerText(condLit(map[string]any{"astKind": "Stmts", "locBegin": "c.c:9:1"}))
	ws := scratchCrate(t, map[string]string{
		"src/lib.rs": "unsafe fn bail(mut x: i32) -> i32 {\n" +
			"    " + begin + "\n" +
			"    x += 1;\n" +
			"    return x;\n" +
			"}\n",
	})
	diags := &hayroll.Diagnostics{}
	//
	require.NoError(t, Reap(ws, false, diags))
	//
	src := srcOf(ws, "src/lib.rs")
	assert.Contains(t, src, "#[cfg(feature = \"FOO\")]\n    (x += 1);")
	assert.Contains(t, src, "#[cfg(feature = \"FOO\")]\n    (return x);")
	assert.NotContains(t, src, "hayroll")
}

func Test_Reap_TornRunWithoutReturnFails(t *testing.T) {
	begin := markerText(condLit(map[string]any{"astKind": "Stmts", "locBegin": "c.c:9:1"}))
	ws := scratchCrate(t, map[string]string{
		"src/lib.rs": "unsafe fn leak() {\n    " + begin + "\n    let mut x: i32 = 0;\n}\n",
	})
	//
	err := Reap(ws, false, &hayroll.Diagnostics{})
	//
	require.ErrorIs(t, err, hayroll.ErrUnmatchedBeginTag)
}

func Test_Reap_KeepTagsPreservesInstrumentation(t *testing.T) {
	guard := guardText(condLit(map[string]any{"locBegin": "c.c:3:7"}), "1 as i32", "2 as i32")
	ws := scratchCrate(t, map[string]string{
		"src/lib.rs": "unsafe fn pick() -> i32 {\n    " + guard + "\n}\n",
	})
	diags := &hayroll.Diagnostics{}
	//
	require.NoError(t, Reap(ws, true, diags))
	//
	src := srcOf(ws, "src/lib.rs")
	assert.Contains(t, src, "if cfg!(feature = \"FOO\") { 1 as i32 } else { 2 as i32 }")
	assert.Contains(t, src, "hayroll")
	assert.Contains(t, manifestOf(t, ws), "FOO")
	//
	require.NoError(t, Clean(ws))
	//
	src = srcOf(ws, "src/lib.rs")
	assert.NotContains(t, src, "hayroll")
	assert.Contains(t, src, "{ if cfg!(feature = \"FOO\") { 1 as i32 } else { 2 as i32 } }")
}

// Test_Reap_LeavesIncompatibleMacroInstrumented binds one slot to both an
// expression and a statement run, as a body like
// `do { int w = s; s; } while(0)` would.  No construct fits, so the pass
// reports the cluster and the cleanup reduces its site to plain live code.
func Test_Reap_LeavesIncompatibleMacroInstrumented(t *testing.T) {
	rootBegin := invLit(map[string]any{"name": "TWICE", "argNames": []any{"s"}, "astKind": "Stmts",
		"canBeFn": false, "locBegin": "a.c:30:1", "locRefBegin": "twice.h:2:1"})
	rootEnd := invLit(map[string]any{"name": "TWICE", "argNames": []any{"s"}, "astKind": "Stmts",
		"canBeFn": false, "locBegin": "a.c:30:1", "locRefBegin": "twice.h:2:1", "begin": false})
	occExpr := invLit(map[string]any{"name": "s", "isArg": true, "canBeFn": false,
		"locBegin": "a.c:30:1.arg.s.0", "locRefBegin": "a.c:30:1"})
	occStmtsBegin := invLit(map[string]any{"name": "s", "isArg": true, "astKind": "Stmts", "canBeFn": false,
		"locBegin": "a.c:30:1.arg.s.1", "locRefBegin": "a.c:30:1"})
	occStmtsEnd := invLit(map[string]any{"name": "s", "isArg": true, "astKind": "Stmts", "canBeFn": false,
		"locBegin": "a.c:30:1.arg.s.1", "locRefBegin": "a.c:30:1", "begin": false})
	ws := scratchCrate(t, map[string]string{
		"src/lib.rs": "unsafe fn degraded(mut v: i32) {\n" +
			"    " + markerText(rootBegin) + "\n" +
			"    let mut w: i32 = (" + guardText(occExpr, "v", deadFor("i32")) + ");\n" +
			"    " + markerText(occStmtsBegin) + "\n" +
			"    v += 1;\n" +
			"    " + markerText(occStmtsEnd) + "\n" +
			"    " + markerText(rootEnd) + "\n" +
			"}\n",
	})
	diags := &hayroll.Diagnostics{}
	//
	require.NoError(t, Reap(ws, false, diags))
	//
	require.Equal(t, 1, diags.Len())
	assert.Contains(t, diags.Entries()[0], "incompatible argument usage")
	src := srcOf(ws, "src/lib.rs")
	assert.NotContains(t, src, "hayroll")
	assert.NotContains(t, src, "TWICE")
	assert.Contains(t, src, "let mut w: i32 = ({ v });")
	assert.Contains(t, src, "v += 1;")
}
