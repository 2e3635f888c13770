package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/abelbrown/recall/internal/config"
)

func newConfigCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration (secrets redacted)",
		RunE: func(_ *cobra.Command, _ []string) error {
			if write {
				return writeDefaultConfig()
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			redact(cfg)
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "write a default config file if none exists")
	return cmd
}

func writeDefaultConfig() error {
	path := configPath
	if path == "" {
		path = config.ConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	fmt.Println(styleSuccess.Render("wrote " + path))
	return nil
}

func redact(cfg *config.Config) {
	for _, s := range []*string{&cfg.Synthesis.APIKey, &cfg.Calendar.Token, &cfg.Email.Password} {
		if *s != "" {
			*s = "********"
		}
	}
}
