package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/ocr-batch/internal/settings"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the settings file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := settings.Load(cfgFile)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(st.AllSettings())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "# %s\n", st.Path())
		if _, err := w.Write(out); err != nil {
			return err
		}
		if err := st.Validate(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}
		return nil
	},
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a settings file with the default values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := settings.Load(cfgFile)
		if err != nil {
			return err
		}
		if _, err := os.Stat(st.Path()); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists, use --force to overwrite", st.Path())
		}
		if err := st.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", st.Path())
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file location",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		path := cfgFile
		if path == "" {
			path = settings.DefaultFileName
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}
