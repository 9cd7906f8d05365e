package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kopabase/kopabase/pkg/dashboard"
	"github.com/kopabase/kopabase/pkg/export"
	"github.com/kopabase/kopabase/pkg/form"
	"github.com/kopabase/kopabase/pkg/supabase"
)

func tableCommands() []*cobra.Command {
	tablesCmd := &cobra.Command{
		Use:   "tables",
		Short: "📋 List the tables of the project, pinned first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *dashboard.Session) error {
				tables, err := s.Tables()
				if err != nil {
					return err
				}
				view, err := s.Workspace()
				if err != nil {
					return err
				}
				pinned := make(map[string]bool, len(view.PinnedTables))
				for _, t := range view.PinnedTables {
					pinned[t] = true
				}
				for _, t := range tables {
					if pinned[t] {
						fmt.Printf("📌 %s\n", t)
					} else {
						fmt.Printf("   %s\n", t)
					}
				}
				return nil
			})
		},
	}

	schemaCmd := &cobra.Command{
		Use:   "schema [table]",
		Short: "🗂️  Show the columns of a table and their form fields",
		Args:  cobra.ExactArgs(1),
		RunE:  runSchema,
	}
	schemaCmd.Flags().String("mode", "edit", "Form mode (add or edit)")

	rowsCmd := &cobra.Command{
		Use:   "rows [table]",
		Short: "📊 Show a page of rows",
		Args:  cobra.ExactArgs(1),
		RunE:  runRows,
	}
	rowsCmd.Flags().String("order", "", "Column to order by")
	rowsCmd.Flags().Bool("desc", false, "Order descending")
	rowsCmd.Flags().StringP("search", "s", "", "Keep rows containing this text")
	rowsCmd.Flags().IntP("limit", "n", 0, "Rows per page (default from settings)")
	rowsCmd.Flags().Int("offset", 0, "Rows to skip")
	rowsCmd.Flags().StringP("format", "f", "table", "Output format (table, json or csv)")

	getCmd := &cobra.Command{
		Use:   "get [table] [key]",
		Short: "🔍 Show one row by primary key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *dashboard.Session) error {
				rec, err := s.Record(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}

	insertCmd := &cobra.Command{
		Use:   "insert [table] [column=value...]",
		Short: "➕ Add a row",
		Long: `➕ Add a row. Values are given as column=value and validated against the
table's add form; "null" sends an explicit null.

Example:
  kopabase insert items name=bolt qty=10 active=true`,
		Args: cobra.MinimumNArgs(1),
		RunE: runInsert,
	}

	updateCmd := &cobra.Command{
		Use:   "edit [table] [key] [column=value...]",
		Short: "✏️  Change columns of a row",
		Args:  cobra.MinimumNArgs(3),
		RunE:  runEdit,
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [table] [key...]",
		Short: "🗑️  Delete rows by primary key",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make([]any, 0, len(args)-1)
			for _, k := range args[1:] {
				keys = append(keys, k)
			}
			return withSession(cmd.Context(), func(s *dashboard.Session) error {
				if err := s.DeleteRecords(cmd.Context(), args[0], keys); err != nil {
					return err
				}
				successColor.Printf("✅ Deleted %d row(s) from %s\n", len(keys), args[0])
				return nil
			})
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export [table] [output-file]",
		Short: "📤 Export every row of a table to JSON or CSV",
		Long: `📤 Export every row of a table to JSON or CSV.

The format follows the output file extension unless --format is given.
With --from-file a previous JSON export is converted instead of a table.

Examples:
  kopabase export items items.csv
  kopabase export items items.json --key id
  kopabase export --from-file items.json items.csv`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runExport,
	}
	exportCmd.Flags().StringP("format", "f", "", "Output format (json or csv)")
	exportCmd.Flags().StringP("key", "k", "", "Write JSON as an object keyed by this column")
	exportCmd.Flags().String("from-file", "", "Convert a JSON export instead of reading a table")

	pinCmd := &cobra.Command{
		Use:   "pin [tables|buckets|users] [name]",
		Short: "📌 Pin or unpin a sidebar entry",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runPin,
	}

	return []*cobra.Command{tablesCmd, schemaCmd, rowsCmd, getCmd, insertCmd, updateCmd, deleteCmd, exportCmd, pinCmd}
}

func runSchema(cmd *cobra.Command, args []string) error {
	modeName, _ := cmd.Flags().GetString("mode")
	mode, err := form.ParseMode(modeName)
	if err != nil {
		return err
	}
	return withSession(cmd.Context(), func(s *dashboard.Session) error {
		schema, err := s.Schema(args[0])
		if err != nil {
			return err
		}
		fields, err := s.Fields(args[0], mode)
		if err != nil {
			return err
		}
		byName := make(map[string]form.Field, len(fields))
		for _, f := range fields {
			byName[f.Name] = f
		}

		fmt.Println()
		successColor.Printf("🗂️  %s (primary key: %s)\n", schema.Name, schema.PrimaryKey())
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COLUMN\tTYPE\tFIELD\tFLAGS")
		for _, c := range schema.Columns {
			typ := string(c.Type)
			if c.Format != "" {
				typ += " (" + c.Format + ")"
			}
			f, ok := byName[c.Name]
			if !ok {
				fmt.Fprintf(tw, "%s\t%s\t-\tgenerated\n", c.Name, typ)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, typ, f.Kind, fieldFlags(f))
		}
		return tw.Flush()
	})
}

func fieldFlags(f form.Field) string {
	var flags []string
	if f.ReadOnly {
		flags = append(flags, "read-only")
	}
	if f.Optional {
		flags = append(flags, "optional")
	}
	if f.Nullable {
		flags = append(flags, "nullable")
	}
	return strings.Join(flags, ",")
}

func runRows(cmd *cobra.Command, args []string) error {
	orderBy, _ := cmd.Flags().GetString("order")
	desc, _ := cmd.Flags().GetBool("desc")
	search, _ := cmd.Flags().GetString("search")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	format, _ := cmd.Flags().GetString("format")
	if limit <= 0 {
		limit = cfg.Server.PageSize
	}

	opts := dashboard.RowsOptions{Search: search, Limit: limit, Offset: offset}
	if orderBy != "" {
		opts.Order = &supabase.Order{Column: orderBy, Ascending: !desc}
	}

	return withSession(cmd.Context(), func(s *dashboard.Session) error {
		res, err := s.Rows(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}
		if format == "table" {
			return printRows(res)
		}
		f, err := export.ParseFormat(format)
		if err != nil {
			return err
		}
		return export.NewExporter(res.Columns).Write(os.Stdout, f, res.Rows)
	})
}

func printRows(res dashboard.RowsResult) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(res.Columns, "\t")))
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			cells[i] = cellString(row[col])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	infoColor.Printf("📊 %d row(s)\n", len(res.Rows))
	return nil
}

// cellString renders a value on one line, truncated to keep columns narrow
func cellString(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		s = "NULL"
	case string:
		s = x
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			s = fmt.Sprint(x)
		} else {
			s = string(data)
		}
	default:
		s = fmt.Sprint(x)
	}
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > 40 {
		s = string(r[:39]) + "…"
	}
	return s
}

func runInsert(cmd *cobra.Command, args []string) error {
	values, err := parseAssignments(args[1:])
	if err != nil {
		return err
	}
	return withSession(cmd.Context(), func(s *dashboard.Session) error {
		rec, err := s.AddRecord(cmd.Context(), args[0], values)
		if err != nil {
			return printValidation(err)
		}
		successColor.Printf("✅ Added a row to %s\n", args[0])
		return printJSON(rec)
	})
}

func runEdit(cmd *cobra.Command, args []string) error {
	values, err := parseAssignments(args[2:])
	if err != nil {
		return err
	}
	return withSession(cmd.Context(), func(s *dashboard.Session) error {
		payload, rec, err := s.EditRecord(cmd.Context(), args[0], args[1], values)
		if errors.Is(err, dashboard.ErrNoChanges) {
			warningColor.Println("⚠️  Nothing changed")
			return nil
		}
		if err != nil {
			return printValidation(err)
		}
		successColor.Printf("✅ Updated %s: %s\n", args[0], strings.Join(payload.Columns(), ", "))
		if rec == nil {
			return nil
		}
		return printJSON(rec)
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	formatName, _ := cmd.Flags().GetString("format")
	keyBy, _ := cmd.Flags().GetString("key")
	fromFile, _ := cmd.Flags().GetString("from-file")

	// with --from-file the only argument is the output file
	output := args[len(args)-1]
	if fromFile == "" && len(args) == 1 {
		output = args[0] + ".json"
		if formatName != "" {
			output = args[0] + "." + strings.ToLower(formatName)
		}
	}

	format := export.FormatFromPath(output)
	if formatName != "" {
		f, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}
		format = f
	}

	write := func(src export.Source) error {
		infoColor.Printf("📤 Exporting %s\n", src.Name())
		n, err := export.ExportToFile(cmd.Context(), src, output, format, keyBy)
		if err != nil {
			return err
		}
		successColor.Printf("✅ Exported %d row(s) to: %s\n", n, output)
		return nil
	}

	if fromFile != "" {
		src, err := export.NewFileSource(fromFile)
		if err != nil {
			return err
		}
		return write(src)
	}

	return withSession(cmd.Context(), func(s *dashboard.Session) error {
		schema, err := s.Schema(args[0])
		if err != nil {
			return err
		}
		client, err := s.Client()
		if err != nil {
			return err
		}
		return write(export.NewTableSource(client, schema))
	})
}

func runPin(cmd *cobra.Command, args []string) error {
	kind := args[0]
	return withSession(cmd.Context(), func(s *dashboard.Session) error {
		var (
			view dashboard.WorkspaceView
			err  error
		)
		switch {
		case kind == "users":
			view, err = s.TogglePinUsers(cmd.Context())
		case len(args) == 2:
			view, err = s.TogglePin(cmd.Context(), kind, args[1])
		default:
			return fmt.Errorf("pin %s needs a name", kind)
		}
		if err != nil {
			return err
		}
		successColor.Println("📌 Pins saved")
		infoColor.Printf("   tables:  %s\n", strings.Join(view.PinnedTables, ", "))
		infoColor.Printf("   buckets: %s\n", strings.Join(view.PinnedBuckets, ", "))
		infoColor.Printf("   users:   %v\n", view.PinnedUsers)
		return nil
	})
}
