package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wondertwin-ai/recordtwin/internal/fetchxml"
	"github.com/wondertwin-ai/recordtwin/internal/record"
	"github.com/wondertwin-ai/recordtwin/internal/recordclient"
)

// parseData decodes a --data value: inline JSON, or @path to read a file.
func parseData(data string) (record.Payload, error) {
	if data == "" {
		return nil, fmt.Errorf("--data is required")
	}
	raw := []byte(data)
	if path, ok := strings.CutPrefix(data, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading data file: %w", err)
		}
		raw = b
	}
	var p record.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("--data must be a JSON object: %w", err)
	}
	return p, nil
}

func (a *app) createCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "create <type>",
		Short: "Create a record and print its reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseData(data)
			if err != nil {
				return err
			}
			rc, err := a.recordClient()
			if err != nil {
				return err
			}
			ref, err := rc.Create(cmd.Context(), args[0], payload)
			if err != nil {
				return err
			}
			return a.printJSON(ref)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "Record JSON, or @file")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	var (
		selectFields []string
		expand       string
	)
	cmd := &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Retrieve one record by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.recordClient()
			if err != nil {
				return err
			}
			var opts []recordclient.RetrieveOption
			if len(selectFields) > 0 {
				opts = append(opts, recordclient.Select(selectFields...))
			}
			if expand != "" {
				opts = append(opts, recordclient.Expand(expand))
			}
			row, err := rc.RetrieveByID(cmd.Context(), record.NewReference(args[0], args[1]), opts...)
			if err != nil {
				return err
			}
			return a.printJSON(row)
		},
	}
	cmd.Flags().StringSliceVar(&selectFields, "select", nil, "Columns to return")
	cmd.Flags().StringVar(&expand, "expand", "", "Navigation properties to expand")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	var (
		fetchFile string
		attrs     []string
		order     string
		desc      bool
		top       int
		pageSize  int
		all       bool
	)
	cmd := &cobra.Command{
		Use:   "list <type>",
		Short: "Query records with FetchXML",
		Long: `Query records with a FetchXML document (--fetch) or a query built from
--attr, --order and --top. Without any of them every column is returned.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity := args[0]
			var q *fetchxml.Fetch
			if fetchFile != "" {
				if len(attrs) > 0 || order != "" || top > 0 {
					return fmt.Errorf("--fetch cannot be combined with --attr, --order or --top")
				}
				doc, err := os.ReadFile(fetchFile)
				if err != nil {
					return fmt.Errorf("reading fetch file: %w", err)
				}
				if q, err = fetchxml.Parse(string(doc)); err != nil {
					return err
				}
				if q.Entity.Name != entity {
					return fmt.Errorf("fetch queries %q, not %q", q.Entity.Name, entity)
				}
			} else {
				q = fetchxml.New(entity)
				if len(attrs) > 0 {
					q.Select(attrs...)
				} else {
					q.SelectAll()
				}
				if order != "" {
					q.OrderBy(order, desc)
				}
				if top > 0 {
					q.Limit(top)
				}
			}

			rc, err := a.recordClient()
			if err != nil {
				return err
			}
			if all {
				rows, err := rc.RetrieveAll(cmd.Context(), entity, q, pageSize)
				if err != nil {
					return err
				}
				return a.printJSON(rows)
			}
			coll, err := rc.RetrieveMultiplePaged(cmd.Context(), entity, q, pageSize)
			if err != nil {
				return err
			}
			return a.printJSON(coll)
		},
	}
	cmd.Flags().StringVar(&fetchFile, "fetch", "", "FetchXML document file")
	cmd.Flags().StringSliceVar(&attrs, "attr", nil, "Columns to return")
	cmd.Flags().StringVar(&order, "order", "", "Column to order by")
	cmd.Flags().BoolVar(&desc, "desc", false, "Order descending")
	cmd.Flags().IntVar(&top, "top", 0, "Maximum number of records")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Records per page (0: store default)")
	cmd.Flags().BoolVar(&all, "all", false, "Follow next links and print every record")
	return cmd
}

func (a *app) updateCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "update <type> <id>",
		Short: "Update an existing record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseData(data)
			if err != nil {
				return err
			}
			rc, err := a.recordClient()
			if err != nil {
				return err
			}
			ref, err := rc.Update(cmd.Context(), args[0], args[1], payload)
			if err != nil {
				return err
			}
			return a.printJSON(ref)
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "Changed columns as JSON, or @file")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.recordClient()
			if err != nil {
				return err
			}
			ref, err := rc.Delete(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.printJSON(ref)
		},
	}
}
