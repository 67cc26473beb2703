package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wondertwin-ai/recordtwin/internal/record"
)

func (a *app) seedCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "seed <type> <records.json>",
		Short: "Bulk create records from a JSON array",
		Long: `Create every object in a JSON array file as a record of <type>. Creates
run in parallel, at most --concurrency at a time; the first failure cancels
the rest. The created references are printed in file order.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1")
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("reading records: %w", err)
			}
			var payloads []record.Payload
			if err := json.Unmarshal(data, &payloads); err != nil {
				return fmt.Errorf("records file must be a JSON array of objects: %w", err)
			}

			rc, err := a.recordClient()
			if err != nil {
				return err
			}

			refs := make([]record.Reference, len(payloads))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(concurrency)
			for i, p := range payloads {
				i, p := i, p
				g.Go(func() error {
					ref, err := rc.Create(ctx, args[0], p)
					if err != nil {
						return fmt.Errorf("record %d: %w", i, err)
					}
					refs[i] = ref
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			a.logger.Info("seeded records", "entity", args[0], "count", len(refs))
			return a.printJSON(refs)
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "Maximum parallel creates")
	return cmd
}
