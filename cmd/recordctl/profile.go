package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/recordtwin/internal/config"
)

func (a *app) profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage connection profiles",
		Long: `Manage the named connection profiles in the config file.

Available subcommands:
  list - List profiles, marking the current one
  show - Print the selected profile with overrides applied
  add  - Add or replace a profile from --url, --token, --user, --api-version and --timeout
  use  - Make a profile the current one`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List profiles",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, _, err := a.loadConfig()
				if err != nil {
					return err
				}
				for _, name := range cfg.Names() {
					marker := " "
					if name == cfg.Current {
						marker = "*"
					}
					fmt.Fprintf(a.out, "%s %-12s %s\n", marker, name, cfg.Profiles[name].URL)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the selected profile",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := a.profile()
				if err != nil {
					return err
				}
				if p.Token != "" {
					p.Token = "********"
				}
				return a.printJSON(p)
			},
		},
		&cobra.Command{
			Use:   "add <name>",
			Short: "Add or replace a profile",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, path, err := a.loadConfig()
				if err != nil {
					return err
				}
				p := config.Profile{
					URL:        a.v.GetString("url"),
					Token:      a.v.GetString("token"),
					User:       a.v.GetString("user"),
					APIVersion: a.v.GetString("api-version"),
					Timeout:    a.v.GetDuration("timeout"),
				}
				if err := cfg.SetProfile(args[0], p); err != nil {
					return err
				}
				if err := config.SaveFile(path, cfg); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "profile %q saved to %s\n", args[0], path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "use <name>",
			Short: "Make a profile the current one",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, path, err := a.loadConfig()
				if err != nil {
					return err
				}
				if err := cfg.Use(args[0]); err != nil {
					return err
				}
				if err := config.SaveFile(path, cfg); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "current profile: %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}
