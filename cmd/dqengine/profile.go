package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/logflow/dqengine/pkg/aggregate"
	"github.com/logflow/dqengine/pkg/batch"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/tui"
)

var valueColumns []string

var profileCmd = &cobra.Command{
	Use:   "profile <data-file>",
	Short: "Show column statistics of a data file",
	Long: `Load a data file and print per-column statistics: nonnull and distinct counts,
min, max and, for numeric columns, mean and standard deviation.

Examples:
  dqengine profile orders.csv
  dqengine profile orders.parquet --values status --values region`,
	Args: cobra.ExactArgs(1),
	RunE: runProfile,
}

func init() {
	profileCmd.Flags().StringVar(&readerMethod, "reader", "", "Reader method (read_csv, read_parquet, read_json)")
	profileCmd.Flags().IntVar(&rowLimit, "limit", 0, "Only load the first N rows")
	profileCmd.Flags().StringArrayVar(&valueColumns, "values", nil, "Print value counts of a column (repeatable)")

	rootCmd.AddCommand(profileCmd)
}

func runProfile(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if _, err := os.Stat(args[0]); err != nil {
		return fmt.Errorf("input file does not exist: %s", args[0])
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	b, err := a.loader.Load(ctx, batch.PathSpec{Path: args[0], ReaderMethod: readerMethod, Limit: rowLimit})
	if err != nil {
		return err
	}
	rel := b.Relation()
	h := aggregate.New(a.rt, a.logger)

	columns, err := h.Columns(ctx, rel)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d rows, %d columns\n\n", args[0], b.Markers.RowCount, len(columns))

	rows := make([][]string, 0, len(columns))
	for _, col := range columns {
		nonnull, err := h.NonnullCount(ctx, rel, col)
		if err != nil {
			return err
		}
		unique, err := h.UniqueCount(ctx, rel, col)
		if err != nil {
			return err
		}
		lo, err := h.Min(ctx, rel, col, false)
		if err != nil {
			return err
		}
		hi, err := h.Max(ctx, rel, col, false)
		if err != nil {
			return err
		}
		mean, err := numericStat(h.Mean(ctx, rel, col))
		if err != nil {
			return err
		}
		stdev, err := numericStat(h.Stdev(ctx, rel, col))
		if err != nil {
			return err
		}
		rows = append(rows, []string{
			col,
			fmt.Sprint(nonnull),
			fmt.Sprint(unique),
			cell(lo),
			cell(hi),
			mean,
			stdev,
		})
	}
	tui.PrintTable(out, []string{"column", "nonnull", "distinct", "min", "max", "mean", "stdev"}, rows)

	for _, col := range valueColumns {
		counts, err := h.ValueCounts(ctx, rel, col, aggregate.SortCount, "")
		if err != nil {
			return err
		}
		byValue := make(map[string]int64, len(counts))
		for _, vc := range counts {
			byValue[fmt.Sprint(vc.Value)] = vc.Count
		}
		fmt.Fprintln(out)
		tui.PrintCounts(out, col, byValue)
	}
	return nil
}

// numericStat renders a statistic, leaving non-numeric columns blank.
func numericStat(v *float64, err error) (string, error) {
	if dqerrors.IsCode(err, dqerrors.CodeTypeMismatch) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return fmt.Sprintf("%.4g", *v), nil
}

func cell(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
