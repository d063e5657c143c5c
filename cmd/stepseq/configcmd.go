package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cbegin/stepseq-go/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the config file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(f)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file if there is none",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := flags.config
		if path == "" {
			p, err := config.Path()
			if err != nil {
				return err
			}
			path = p
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := config.Save(path, config.Default()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}
