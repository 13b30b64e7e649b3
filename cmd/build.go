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
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/forge/bundler"
	"bennypowers.dev/forge/pipeline"
	"bennypowers.dev/forge/vfs"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a bundle from an entry point",
	Long: `Walks the module graph from the entry point, compiles every
reachable source, and writes the assembled bundle. With --html the
output is a complete page that mounts the entry component.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		entry := viper.GetString("build.entry")
		if entry == "" {
			return fmt.Errorf("--entry is required")
		}

		fs, err := vfs.NewLocalFS(viper.GetString("project-dir"))
		if err != nil {
			return fmt.Errorf("project dir: %w", err)
		}

		p := pipeline.New(pipeline.Config{
			FileSystem: fs,
			Target:     viper.GetString("build.target"),
		})
		if err := p.Init(ctx); err != nil {
			return err
		}

		opts := bundler.Options{
			EntryPoint:        entry,
			IncludeStyleLayer: viper.GetBool("build.styleLayer"),
			Target:            viper.GetString("build.target"),
			Externals:         viper.GetStringSlice("build.externals"),
		}

		if viper.GetBool("build.preflight") {
			p.Externals().Preflight(ctx, p.Externals().Names())
		}

		result, err := p.Build(ctx, opts)
		if err != nil {
			return err
		}
		pterm.Success.Printfln("bundled %d modules from %s", len(result.Modules), entry)

		output := result.Bundle
		if viper.GetBool("build.html") {
			output = pipeline.RenderDocument(result, entry, "root")
		}

		out := viper.GetString("build.out")
		if out == "" || out == "-" {
			fmt.Println(output)
			return nil
		}
		if err := os.WriteFile(out, []byte(output), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		pterm.Info.Printfln("wrote %s (%d bytes)", out, len(output))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().String("entry", "", "entry point, e.g. /src/main.tsx")
	buildCmd.Flags().String("out", "", "output file (default stdout)")
	buildCmd.Flags().String("target", "", "ECMAScript target (default from tsconfig, then es2022)")
	buildCmd.Flags().Bool("style-layer", false, "inject the style framework layer")
	buildCmd.Flags().Bool("html", false, "emit a complete HTML page instead of the bare bundle")
	buildCmd.Flags().Bool("preflight", false, "probe external CDN urls before building")
	buildCmd.Flags().StringSlice("external", nil, "extra external library names")

	if err := viper.BindPFlag("build.entry", buildCmd.Flags().Lookup("entry")); err != nil {
		panic(fmt.Sprintf("failed to bind flag build.entry: %v", err))
	}
	if err := viper.BindPFlag("build.out", buildCmd.Flags().Lookup("out")); err != nil {
		panic(fmt.Sprintf("failed to bind flag build.out: %v", err))
	}
	if err := viper.BindPFlag("build.target", buildCmd.Flags().Lookup("target")); err != nil {
		panic(fmt.Sprintf("failed to bind flag build.target: %v", err))
	}
	if err := viper.BindPFlag("build.styleLayer", buildCmd.Flags().Lookup("style-layer")); err != nil {
		panic(fmt.Sprintf("failed to bind flag build.styleLayer: %v", err))
	}
	if err := viper.BindPFlag("build.html", buildCmd.Flags().Lookup("html")); err != nil {
		panic(fmt.Sprintf("failed to bind flag build.html: %v", err))
	}
	if err := viper.BindPFlag("build.preflight", buildCmd.Flags().Lookup("preflight")); err != nil {
		panic(fmt.Sprintf("failed to bind flag build.preflight: %v", err))
	}
	if err := viper.BindPFlag("build.externals", buildCmd.Flags().Lookup("external")); err != nil {
		panic(fmt.Sprintf("failed to bind flag build.externals: %v", err))
	}
}
