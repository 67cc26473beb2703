package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/recordtwin/pkg/twincore"
)

func (a *app) twinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "twin",
		Short: "Talk to a record twin's admin API at the profile URL",
	}

	var (
		f     twincore.Fault
		delay time.Duration
	)
	fault := &cobra.Command{
		Use:   "fault <endpoint>",
		Short: "Inject a fault, e.g. fault /api/data/v9.2/accounts --status 503 --method PATCH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ac, err := a.adminClient()
			if err != nil {
				return err
			}
			f.DelayMS = int(delay / time.Millisecond)
			body, err := ac.InjectFault(cmd.Context(), args[0], f)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, body)
			return nil
		},
	}
	fault.Flags().IntVar(&f.Status, "status", 500, "HTTP status to return (0 with --delay only slows calls)")
	fault.Flags().StringVar(&f.Code, "code", "", "Dataverse error code (default derived from --status)")
	fault.Flags().StringVar(&f.Method, "method", "", "Only fail calls with this HTTP method")
	fault.Flags().DurationVar(&delay, "delay", 0, "Delay before the fault applies")
	fault.Flags().Float64Var(&f.Rate, "rate", 1, "Fraction of matching requests to fail")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "health",
			Short: "Check the twin's health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ac, err := a.adminClient()
				if err != nil {
					return err
				}
				ok, body := ac.Health(cmd.Context())
				if !ok {
					return fmt.Errorf("twin unhealthy: %s", body)
				}
				fmt.Fprintln(a.out, body)
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Clear all twin state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ac, err := a.adminClient()
				if err != nil {
					return err
				}
				body, err := ac.Reset(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, body)
				return nil
			},
		},
		&cobra.Command{
			Use:   "seed <state.json>",
			Short: "Replace twin state with a snapshot file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ac, err := a.adminClient()
				if err != nil {
					return err
				}
				body, err := ac.Seed(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, body)
				return nil
			},
		},
		&cobra.Command{
			Use:   "state",
			Short: "Print the twin's tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ac, err := a.adminClient()
				if err != nil {
					return err
				}
				state, err := ac.State(cmd.Context())
				if err != nil {
					return err
				}
				return a.printJSON(state)
			},
		},
		fault,
	)
	return cmd
}
