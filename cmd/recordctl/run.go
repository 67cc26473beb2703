package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/recordtwin/internal/scenario"
)

func (a *app) runCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml|dir>...",
		Short: "Run record scenarios",
		Long: `Run YAML or JSON record scenarios against the selected profile. A directory
argument runs every scenario file in it. Setup steps (reset, seed) use the
twin admin API at the profile URL.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var scenarios []*scenario.Scenario
			for _, path := range args {
				info, err := os.Stat(path)
				if err != nil {
					return err
				}
				if info.IsDir() {
					loaded, err := scenario.LoadDir(path)
					if err != nil {
						return err
					}
					scenarios = append(scenarios, loaded...)
					continue
				}
				s, err := scenario.LoadFile(path)
				if err != nil {
					return err
				}
				scenarios = append(scenarios, s)
			}
			if len(scenarios) == 0 {
				return fmt.Errorf("no scenarios found")
			}

			rc, err := a.recordClient()
			if err != nil {
				return err
			}
			admin, err := a.adminClient()
			if err != nil {
				return err
			}
			runner := scenario.NewRunner(rc, admin, scenario.WithLogger(a.logger))

			var results []*scenario.Result
			failed := 0
			for _, s := range scenarios {
				res, err := runner.Run(cmd.Context(), s)
				if err != nil {
					return err
				}
				results = append(results, res)
				if !res.Passed {
					failed++
				}
				if !jsonOut {
					a.printResult(res)
				}
			}
			if jsonOut {
				if err := a.printJSON(results); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(a.out, "\n%d/%d scenarios passed\n", len(results)-failed, len(results))
			}
			if failed > 0 {
				return fmt.Errorf("%d scenario(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print results as JSON")
	return cmd
}

func (a *app) printResult(res *scenario.Result) {
	status := "PASS"
	if !res.Passed {
		status = "FAIL"
	}
	fmt.Fprintf(a.out, "%s %s (%s)\n", status, res.Name, res.Duration.Round(time.Millisecond))
	for _, sr := range res.Steps {
		mark := "ok"
		if !sr.Passed {
			mark = "FAILED"
		}
		fmt.Fprintf(a.out, "  %-6s %s\n", mark, sr.Name)
		if sr.Error != "" {
			fmt.Fprintf(a.out, "         %s\n", sr.Error)
		}
	}
}
