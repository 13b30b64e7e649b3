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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/forge/serve"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the project with watch mode and hot reload",
	Long: `Mirrors the project into a virtual tree, serves the rendered
page and bundle, and pushes module patches to connected pages when
sources change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		entry := viper.GetString("serve.entry")
		if entry == "" {
			return fmt.Errorf("--entry is required")
		}
		logger := serve.NewLogger(viper.GetBool("verbose"))
		server, err := serve.NewServer(serve.Config{
			Port:       viper.GetInt("serve.port"),
			Entry:      entry,
			ProjectDir: viper.GetString("project-dir"),
			Reload:     !viper.GetBool("serve.noReload"),
			StyleLayer: viper.GetBool("serve.styleLayer"),
			Target:     viper.GetString("serve.target"),
			Verbose:    viper.GetBool("verbose"),
		}, logger)
		if err != nil {
			return err
		}
		return server.Start(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "port to listen on")
	serveCmd.Flags().String("entry", "", "entry point, e.g. /src/main.tsx")
	serveCmd.Flags().String("target", "", "ECMAScript target")
	serveCmd.Flags().Bool("style-layer", false, "inject the style framework layer")
	serveCmd.Flags().Bool("no-reload", false, "disable the file watcher and reload channel")

	if err := viper.BindPFlag("serve.port", serveCmd.Flags().Lookup("port")); err != nil {
		panic(fmt.Sprintf("failed to bind flag serve.port: %v", err))
	}
	if err := viper.BindPFlag("serve.entry", serveCmd.Flags().Lookup("entry")); err != nil {
		panic(fmt.Sprintf("failed to bind flag serve.entry: %v", err))
	}
	if err := viper.BindPFlag("serve.target", serveCmd.Flags().Lookup("target")); err != nil {
		panic(fmt.Sprintf("failed to bind flag serve.target: %v", err))
	}
	if err := viper.BindPFlag("serve.styleLayer", serveCmd.Flags().Lookup("style-layer")); err != nil {
		panic(fmt.Sprintf("failed to bind flag serve.styleLayer: %v", err))
	}
	if err := viper.BindPFlag("serve.noReload", serveCmd.Flags().Lookup("no-reload")); err != nil {
		panic(fmt.Sprintf("failed to bind flag serve.noReload: %v", err))
	}
}
