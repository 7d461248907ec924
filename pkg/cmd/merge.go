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

// mergeCmd represents the merge command
var mergeCmd = &cobra.Command{
	Use:   "merge [flags] base_dir patch_dir",
	Short: "Fold one reaped build variant into another.",
	Long: `Fold one reaped build variant into another.
	Both crates must have been reaped with --keep-tags.  Conditional regions
	the patch compiled in and the base did not are carried over, concrete
	regions gated differently become chained cfg alternatives, and missing
	declarations are copied.  Only the base crate is modified; merge the
	variants one by one onto the same base, then run clean.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 2 {
			fmt.Println(cmd.UsageString())
			os.Exit(1)
		}
		configureLogging(cmd)
		stripSrcLocs := getFlag(cmd, "strip-src-locs")
		//
		base := openWorkspace(args[0])
		defer base.Close()
		patch := openWorkspace(args[1])
		defer patch.Close()
		//
		var diags hayroll.Diagnostics
		err := pipeline.Merge(base, patch, stripSrcLocs, &diags)
		finishRun(base, &diags, err)
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
	mergeCmd.Flags().Bool("strip-src-locs", false, "strip location attributes from copied declarations")
}
