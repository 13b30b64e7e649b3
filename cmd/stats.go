/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/forge/bundler"
	"bennypowers.dev/forge/pipeline"
	"bennypowers.dev/forge/vfs"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Build once and report module and dependency statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		entry := viper.GetString("stats.entry")
		if entry == "" {
			return fmt.Errorf("--entry is required")
		}
		fs, err := vfs.NewLocalFS(viper.GetString("project-dir"))
		if err != nil {
			return fmt.Errorf("project dir: %w", err)
		}
		p := pipeline.New(pipeline.Config{FileSystem: fs})
		if err := p.Init(ctx); err != nil {
			return err
		}
		result, err := p.Build(ctx, bundler.Options{EntryPoint: entry})
		if err != nil {
			return err
		}

		stats := p.Stats()
		if viper.GetBool("stats.json") {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		pterm.DefaultSection.Println("Modules")
		for _, id := range result.Modules {
			pterm.Printfln("  %s → %v", id, result.DependencyGraph[id])
		}
		pterm.DefaultSection.Println("Externals")
		for _, name := range stats.Externals {
			pterm.Printfln("  %s", name)
		}
		pterm.Printfln("\n%d modules, %d externals", len(result.Modules), len(stats.Externals))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().String("entry", "", "entry point, e.g. /src/main.tsx")
	statsCmd.Flags().Bool("json", false, "emit stats as JSON")

	if err := viper.BindPFlag("stats.entry", statsCmd.Flags().Lookup("entry")); err != nil {
		panic(fmt.Sprintf("failed to bind flag stats.entry: %v", err))
	}
	if err := viper.BindPFlag("stats.json", statsCmd.Flags().Lookup("json")); err != nil {
		panic(fmt.Sprintf("failed to bind flag stats.json: %v", err))
	}
}
