package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fed-liquidity/internal/app"
	"fed-liquidity/internal/liquidity"
)

var (
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
	exportS3        bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export observations as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
			Upload:    exportS3,
		}

		var err error
		if exportFrom != "" {
			if opts.From, err = liquidity.ParseDate(exportFrom); err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
		}

		if exportTo != "" {
			if opts.To, err = liquidity.ParseDate(exportTo); err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End date (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
	exportCmd.Flags().BoolVar(&exportS3, "s3", false, "Upload the written files to export.s3.bucket")
}
