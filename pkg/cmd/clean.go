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

// cleanCmd represents the clean command
var cleanCmd = &cobra.Command{
	Use:   "clean workspace_dir",
	Short: "Strip the remaining instrumentation from a crate.",
	Long: `Strip the remaining instrumentation from a crate.
	Expression guards collapse to their live branch, statement markers and
	declaration tag items disappear, and so do the translator's location
	attributes.  Run this once after the last variant merge.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			fmt.Println(cmd.UsageString())
			os.Exit(1)
		}
		configureLogging(cmd)
		//
		ws := openWorkspace(args[0])
		defer ws.Close()
		//
		var diags hayroll.Diagnostics
		err := pipeline.Clean(ws)
		finishRun(ws, &diags, err)
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
