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
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Bundle TypeScript and JSX sources into a self-loading page",
	Long: `Compiles a tree of TypeScript/JSX/CSS sources into a single
self-bootstrapping bundle. The bundle installs its own module loader,
resolves external libraries from the host page or a CDN, and mounts the
entry component. The serve command adds watch mode with hot reload.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	rootCmd.PersistentFlags().String("project-dir", ".", "project directory holding the sources")
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		pterm.Fatal.Printfln("Unable to bind flags: %v", err)
	}
}

// initConfig reads .forge.yaml and FORGE_* environment variables.
func initConfig() {
	viper.SetConfigName(".forge")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("FORGE")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		pterm.Debug.Printfln("Using config file: %s", viper.ConfigFileUsed())
	}
	if viper.GetBool("verbose") {
		pterm.EnableDebugMessages()
	}
}
