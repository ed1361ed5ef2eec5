package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andreyvit/grids"
)

var version = "0.1.0"

type globalFlags struct {
	configPath string
	swapPath   string
	logLevel   string
}

func main() {
	var gf globalFlags

	root := &cobra.Command{
		Use:           "gridctl",
		Short:         "Create and inspect out-of-core raster grids",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&gf.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&gf.swapPath, "swap", "", "swap file (overrides memory.swap_path)")
	root.PersistentFlags().StringVar(&gf.logLevel, "log-level", "", "log level (overrides log.level)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gridctl v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(demoCommand(&gf))
	root.AddCommand(inspectCommand(&gf))
	root.AddCommand(dropCommand(&gf))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type env struct {
	cfg    grids.Config
	logger *zap.Logger
	reg    *prometheus.Registry
	mgr    *grids.Manager
}

func setup(gf *globalFlags) (*env, error) {
	cfg := grids.DefaultConfig()
	if gf.configPath != "" {
		var err error
		cfg, err = grids.LoadConfig(gf.configPath)
		if err != nil {
			return nil, err
		}
	}
	if gf.swapPath != "" {
		cfg.Memory.SwapPath = gf.swapPath
	}
	if gf.logLevel != "" {
		cfg.Log.Level = gf.logLevel
	}
	cfg.Log.Development = true
	if cfg.Log.Encoding == "" || cfg.Log.Encoding == "json" {
		cfg.Log.Encoding = "console"
	}
	cfg.Log.OutputPaths = []string{"stderr"}

	logger, err := grids.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	notices, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	for _, n := range notices {
		logger.Warn(n)
	}

	reg := prometheus.NewRegistry()
	mgr, err := grids.NewManager(cfg.ManagerOptions(logger, reg))
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, reg: reg, mgr: mgr}, nil
}

func (e *env) close() {
	if err := e.mgr.Close(); err != nil {
		e.logger.Error("closing manager", zap.Error(err))
	}
	_ = e.logger.Sync()
}

func demoCommand(gf *globalFlags) *cobra.Command {
	var (
		name         string
		nrows, ncols int64
		fill         float64
		noData       float64
		seed         uint64
		persist      bool
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Fill a random grid under the configured memory budget and report what happened",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(gf)
			if err != nil {
				return err
			}
			defer e.close()

			opt, err := grids.GridOptionsFromConfig(&e.cfg, name, nrows, ncols, noData)
			if err != nil {
				return err
			}
			g, err := grids.New(e.mgr, opt)
			if err != nil {
				return err
			}

			rnd := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
			for r := int64(0); r < nrows; r++ {
				for c := int64(0); c < ncols; c++ {
					if rnd.Float64() < fill {
						g.SetCell(r, c, float64(rnd.IntN(100)))
					}
				}
			}
			if err := g.Err(); err != nil {
				return err
			}

			sum, err := g.Stats().Summary()
			if err != nil {
				return err
			}
			var n int64
			for range g.All() {
				n++
			}
			fmt.Printf("grid %s: %d cells visited, %d with data, sum %.0f, min %v, max %v, mean %.3f\n",
				g.Name(), n, sum.N, sum.Sum, sum.Min, sum.Max, sum.Mean)
			printStorage(g.StorageStats(), e.mgr.Stats())

			if persist {
				if err := g.Persist(); err != nil {
					return err
				}
				fmt.Printf("persisted %s\n", g.Name())
			}
			return printMetrics(e.reg)
		},
	}
	cmd.Flags().StringVar(&name, "name", "demo", "grid name")
	cmd.Flags().Int64Var(&nrows, "rows", 2000, "grid rows")
	cmd.Flags().Int64Var(&ncols, "cols", 2000, "grid columns")
	cmd.Flags().Float64Var(&fill, "fill", 0.3, "fraction of cells to set")
	cmd.Flags().Float64Var(&noData, "nodata", -9999, "no-data value")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().BoolVar(&persist, "persist", false, "persist the grid into the swap file")
	return cmd
}

func inspectCommand(gf *globalFlags) *cobra.Command {
	var cells bool
	cmd := &cobra.Command{
		Use:   "inspect [grid]",
		Short: "List persisted grids, or describe one of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(gf)
			if err != nil {
				return err
			}
			defer e.close()

			if len(args) == 0 {
				names, err := e.mgr.PersistedGrids()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Println(n)
				}
				return nil
			}

			g, err := grids.Open[float64](e.mgr, args[0])
			if err != nil {
				return err
			}
			flags := grids.DumpGridHeader | grids.DumpStats | grids.DumpChunks | grids.DumpSwap
			if cells {
				flags |= grids.DumpCells
			}
			fmt.Print(g.Dump(flags))
			return nil
		},
	}
	cmd.Flags().BoolVar(&cells, "cells", false, "print every cell")
	return cmd
}

func dropCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "drop grid",
		Short: "Remove a persisted grid from the swap file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(gf)
			if err != nil {
				return err
			}
			defer e.close()
			return e.mgr.DropPersisted(args[0])
		},
	}
}

func printStorage(gs grids.GridStorageStats, ms grids.ManagerStats) {
	fmt.Printf("chunks: %d total, %d resident, %d swap records (%d bytes)\n", gs.Chunks, gs.Resident, gs.SwapRecords, gs.SwapSize)
	for k, n := range gs.ByKind {
		fmt.Printf("  %s: %d\n", k, n)
	}
	fmt.Printf("memory: %d bytes charged, %d reserved, %d budget\n", ms.Charged, ms.Reserved, ms.Budget)
}

func printMetrics(reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var v float64
			switch {
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			default:
				continue
			}
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
			}
			fmt.Printf("%s%s %g\n", mf.GetName(), labels, v)
		}
	}
	return nil
}
