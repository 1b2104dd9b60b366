package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/address-cli/internal/fixedwidth"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the active field schema with column offsets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("schema")
		if path == "" {
			path = cfg.Schema.Path
		}

		schema, err := fixedwidth.LoadSchema(path)
		if err != nil {
			return err
		}
		formatSchema(os.Stdout, schema)
		return nil
	},
}

// formatSchema writes the schema as a table of fields and their spans.
func formatSchema(out io.Writer, s fixedwidth.Schema) {
	_, _ = fmt.Fprintf(out, "Schema: %s (total width %d)\n\n", s.Name, s.TotalWidth())

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tFIELD\tSTART\tEND\tWIDTH\tDELIMITER")
	for i, c := range s.Columns() {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\n",
			i+1, c.Name, c.Start, c.End, c.Width, strconv.Quote(c.Delimiter))
	}
	_ = w.Flush()
}

func init() {
	schemaCmd.Flags().String("schema", "", "YAML schema file (default from config)")
	rootCmd.AddCommand(schemaCmd)
}
