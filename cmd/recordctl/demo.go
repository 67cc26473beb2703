package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/recordtwin/internal/control"
)

// demoStep is one line of demo output.
type demoStep struct {
	Action  control.Action `json:"action"`
	Result  any            `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	Records int            `json:"records,omitempty"`
}

func (a *app) demoCmd() *cobra.Command {
	var entity, pageID string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run every control action once: create, retrieve, query, update, delete",
		Long: `Hosts the record control against the selected profile and runs each of its
actions in order. Retrieve targets --page-id when given, otherwise the record
the demo just created.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wc, err := a.webAPI()
			if err != nil {
				return err
			}
			ctl := control.New(control.WithLogger(a.logger))
			host := control.HostContext{WebAPI: wc, EntityTypeName: entity, EntityID: pageID}
			if err := ctl.Init(cmd.Context(), host, nil, nil); err != nil {
				return err
			}
			defer ctl.Destroy()

			sequence := []control.Action{
				control.ActionCreate,
				control.ActionRetrieveByID,
				control.ActionRetrieveMultiple,
				control.ActionUpdate,
				control.ActionRetrieveByID,
				control.ActionDelete,
			}
			var steps []demoStep
			var failed int
			for _, action := range sequence {
				res, err := ctl.Do(cmd.Context(), action)
				step := demoStep{Action: action}
				switch {
				case err != nil:
					step.Error = err.Error()
					failed++
				case action == control.ActionRetrieveMultiple:
					step.Result = res.Collection.Entities
					step.Records = res.Collection.Len()
				case res.Payload != nil:
					step.Result = res.Payload
				default:
					step.Result = res.Reference
				}
				steps = append(steps, step)
			}
			if err := a.printJSON(steps); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d actions failed", failed, len(sequence))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entity, "page-entity", control.DefaultEntityName, "Entity type of the hosting page's record")
	cmd.Flags().StringVar(&pageID, "page-id", "", "Id of the hosting page's record")
	return cmd
}
