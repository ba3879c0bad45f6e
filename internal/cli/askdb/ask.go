package askdb

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/askdb/askdb/internal/export"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/query"
)

const maxRenderedRows = 50

func (r *runner) askCommand() *cobra.Command {
	var csvPath, parquetPath string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Translate a question into SQL, run it and print the rows",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := r.buildApp(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			conn, desc, err := a.connector(ctx, a.cfg.Database.ConnParams())
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()

			result, err := a.pipeline.Run(ctx, nl2sql.Request{
				Question: strings.Join(args, " "),
				Conn:     conn,
				Schema:   desc,
				Template: a.template,
				Model:    a.cfg.AI.Model,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			renderResult(out, result)
			success, ok := result.(nl2sql.Success)
			if !ok {
				return errDeclined
			}
			if csvPath != "" {
				if err := writeExport(csvPath, export.FormatCSV, success.Rows); err != nil {
					return err
				}
				pterm.Info.WithWriter(out).Printfln("wrote %s", csvPath)
			}
			if parquetPath != "" {
				if err := writeExport(parquetPath, export.FormatParquet, success.Rows); err != nil {
					return err
				}
				pterm.Info.WithWriter(out).Printfln("wrote %s", parquetPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "write the result to a CSV file")
	cmd.Flags().StringVar(&parquetPath, "parquet", "", "write the result to a Parquet file")
	return cmd
}

func (r *runner) schemaCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Describe the tables, columns and foreign keys the model will see",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := r.loadConfig(cmd)
			if err != nil {
				return err
			}
			conn, desc, err := r.connectorFor(cfg)(cmd.Context(), cfg.Database.ConnParams())
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()

			out := cmd.OutOrStdout()
			if asJSON {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(desc)
			}
			_, err = fmt.Fprint(out, desc.Text())
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the structured description as JSON")
	return cmd
}

func renderResult(out io.Writer, result nl2sql.Result) {
	switch typed := result.(type) {
	case nl2sql.Success:
		pterm.Info.WithWriter(out).Println("SQL: " + typed.GeneratedSQL)
		renderRows(out, typed.Rows)
	case nl2sql.RejectedQuestion:
		pterm.Warning.WithWriter(out).Println(typed.Message)
	case nl2sql.UnsafeQuery:
		pterm.Info.WithWriter(out).Println("SQL: " + typed.GeneratedSQL)
		pterm.Error.WithWriter(out).Println("unsafe query: " + typed.Message)
	case nl2sql.ExecutionError:
		pterm.Info.WithWriter(out).Println("SQL: " + typed.GeneratedSQL)
		pterm.Error.WithWriter(out).Println(typed.Message)
	}
}

func renderRows(out io.Writer, rs query.ResultSet) {
	if rs.Len() == 0 {
		pterm.Warning.WithWriter(out).Println("query returned no rows")
		return
	}
	data := pterm.TableData{rs.Columns}
	for i, row := range rs.Rows {
		if i == maxRenderedRows {
			break
		}
		cells := make([]string, len(row))
		for j, value := range row {
			if text, ok := export.FormatValue(value); ok {
				cells[j] = text
			} else {
				cells[j] = "NULL"
			}
		}
		data = append(data, cells)
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(out).Render()
	if rs.Len() > maxRenderedRows {
		pterm.Info.WithWriter(out).Printfln("showing %d of %d rows; use --csv or --parquet for the full result", maxRenderedRows, rs.Len())
	} else {
		pterm.Info.WithWriter(out).Printfln("%d rows", rs.Len())
	}
}

func writeExport(path string, format export.Format, rs query.ResultSet) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, closeErr)
		}
	}()
	if err := export.Encode(file, format, rs); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
