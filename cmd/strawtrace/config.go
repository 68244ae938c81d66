package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/strawtrace/strawtrace/internal/config"
	"github.com/strawtrace/strawtrace/internal/debug"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: GroupSetup,
	Short:   "Manage site configuration (.strawtrace/config.yaml)",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .strawtrace/config.yaml in the current directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		path, err := config.WriteLocalConfig(filepath.Join(cwd, config.DirName), config.DefaultLocalConfig(paths.Root), force)
		if err != nil {
			return err
		}
		debug.PrintNormal("Wrote %s\n", path)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:     "set <key> <value>",
	Short:   "Set a key in the site configuration",
	Example: `  strawtrace config set lock.retry-max-elapsed 10s`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetYamlConfig(args[0], args[1]); err != nil {
			return err
		}
		debug.PrintNormal("Set %s = %s\n", args[0], args[1])
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.AllSettings()
		if jsonOutput {
			outputJSON(map[string]interface{}{"file": config.ConfigFileUsed(), "settings": settings})
			return nil
		}
		if f := config.ConfigFileUsed(); f != "" {
			fmt.Printf("# %s\n", f)
		} else {
			fmt.Println("# no config file, defaults and environment only")
		}
		data, err := yaml.Marshal(settings)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the keys config set accepts",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		keys := make([]string, 0, len(config.KnownKeys))
		for k := range config.KnownKeys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Println(k)
		}
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config.yaml")
	configCmd.AddCommand(configInitCmd, configSetCmd, configShowCmd, configKeysCmd)
	rootCmd.AddCommand(configCmd)
}
