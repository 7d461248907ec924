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
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hayroll/go-hayroll/pkg/hayroll"
	"github.com/hayroll/go-hayroll/pkg/pipeline"
)

// reapCmd represents the reap command
var reapCmd = &cobra.Command{
	Use:   "reap [flags] workspace_dir",
	Short: "Recover macros and conditionals in a translated crate.",
	Long: `Recover macros and conditionals in a translated crate.
	Each macro expanded at compatible call sites becomes one function or
	macro_rules! template, each conditional region gains its cfg gate, and
	the instrumentation is stripped.  With --keep-tags the instrumentation
	survives, so further build variants can still be merged in; run clean
	after the last merge.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			fmt.Println(cmd.UsageString())
			os.Exit(1)
		}
		configureLogging(cmd)
		keepTags := getFlag(cmd, "keep-tags")
		//
		ws := openWorkspace(args[0])
		defer ws.Close()
		//
		var diags hayroll.Diagnostics
		err := pipeline.Reap(ws, keepTags, &diags)
		finishRun(ws, &diags, err)
	},
}

func init() {
	rootCmd.AddCommand(reapCmd)
	reapCmd.Flags().Bool("keep-tags", false, "keep instrumentation for a later variant merge")
}
