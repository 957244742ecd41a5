package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/spatialcompare/internal/config"
	"github.com/banshee-data/spatialcompare/internal/render"
)

func newHistogramCmd() *cobra.Command {
	var (
		gridID    string
		lo, hi    float64
		width     float64
		out       string
		html      bool
		storeKind string
		storePath string
	)
	cmd := &cobra.Command{
		Use:   "histogram",
		Short: "Export a value histogram of a stored grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			if gridID == "" || out == "" {
				return fmt.Errorf("--grid and --out are required")
			}
			h := render.Histogram{Min: lo, Max: hi, BucketWidth: width}
			if err := h.Validate(); err != nil {
				return err
			}

			var sc config.StoreConfig
			if cfg := FromCommand(cmd).Config; cfg != nil {
				sc = cfg.Store
			}
			if storeKind != "" {
				sc.Kind = &storeKind
			}
			if storePath != "" {
				sc.Path = &storePath
			}
			store, closeStore, err := openStore(sc)
			if err != nil {
				return err
			}
			defer closeStore()

			g, err := store.Load(cmd.Context(), gridID)
			if err != nil {
				return err
			}
			if !html {
				return render.WritePNG(g, h, gridID, out)
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := render.WriteHTML(g, h, gridID, f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	f := cmd.Flags()
	f.StringVar(&gridID, "grid", "", "stored grid id")
	f.Float64Var(&lo, "min", 0, "lower bound of the displayed range")
	f.Float64Var(&hi, "max", 0, "upper bound of the displayed range")
	f.Float64Var(&width, "width", 0, "bucket width")
	f.StringVar(&out, "out", "", "output file")
	f.BoolVar(&html, "html", false, "write an HTML chart instead of a PNG")
	f.StringVar(&storeKind, "store-kind", "", "store kind (file, sqlite); overrides the config")
	f.StringVar(&storePath, "store-path", "", "store root or database; overrides the config")
	return cmd
}
