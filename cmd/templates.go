package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lmeira/docsqueeze/internal/template"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Inspect the template definitions",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured templates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tc, err := initTemplates()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tKIND\tFIELDS\tREQUIRED\tDESCRIPTION")
		for _, id := range tc.IDs() {
			tpl := tc.ByID(id)
			kind := tpl.Kind
			if kind == "" {
				kind = "general"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
				tpl.ID, kind, len(tpl.FieldNames()), len(tpl.RequiredFields()), tpl.Description)
		}
		return w.Flush()
	},
}

var templatesValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a template definitions file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Templates.Path
		if len(args) == 1 {
			path = args[0]
		}

		tc, err := template.Load(path)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "%s: %d template(s) OK\n", path, len(tc.Templates))
		return nil
	},
}

func init() {
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesValidateCmd)
	rootCmd.AddCommand(templatesCmd)
}
