package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "gridctl",
		Short:        "Offline tools for grid worlds: catalogs, drag plans, snapshots and tick logs",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(replayCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func validateCmd() *cobra.Command {
	var tuningPath string
	cmd := &cobra.Command{
		Use:   "validate [configs-dir]",
		Short: "Check building definitions against the schema and compile their footprints",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runValidate(c.OutOrStdout(), args[0], tuningPath)
		},
	}
	cmd.Flags().StringVar(&tuningPath, "tuning", "", "tuning.yaml to check as well (default: <configs>/tuning.yaml if present)")
	return cmd
}

func planCmd() *cobra.Command {
	var o planOpts
	cmd := &cobra.Command{
		Use:   "plan [building-id]",
		Short: "Show which tiles a mass-placement drag would produce",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			o.BuildingID = args[0]
			return runPlan(c.OutOrStdout(), o)
		},
	}
	cmd.Flags().StringVar(&o.ConfigDir, "configs", "./configs", "config directory")
	cmd.Flags().StringVar(&o.Snapshot, "snapshot", "", "plan against the grid stored in this snapshot")
	cmd.Flags().IntVar(&o.GridSize, "grid", 32, "grid size when no snapshot is given")
	cmd.Flags().IntVarP(&o.Rotation, "rotation", "r", 0, "footprint rotation (quarter turns)")
	cmd.Flags().IntSliceVar(&o.From, "from", []int{0, 0}, "drag start cell x,z")
	cmd.Flags().IntSliceVar(&o.To, "to", []int{0, 0}, "drag end cell x,z")
	cmd.Flags().IntVar(&o.MaxTiles, "max-tiles", 0, "cap on enumerated tiles (0 = no cap)")
	cmd.Flags().BoolVar(&o.Map, "map", false, "print an ASCII map of the grid with the plan")
	return cmd
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [snapshot]",
		Short: "Summarize a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runInspect(c.OutOrStdout(), args[0])
		},
	}
}

func replayCmd() *cobra.Command {
	var o replayOpts
	cmd := &cobra.Command{
		Use:   "replay [snapshot]",
		Short: "Re-run logged ticks on top of a snapshot and verify every state digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			o.Snapshot = args[0]
			return runReplay(c.OutOrStdout(), o)
		},
	}
	cmd.Flags().StringVar(&o.TicksDir, "ticks", "", "directory holding ticks-*.jsonl.zst (default: <snapshot dir>/../ticks)")
	cmd.Flags().StringVar(&o.ConfigDir, "configs", "./configs", "config directory")
	cmd.Flags().Uint64Var(&o.FromTick, "from-tick", 0, "start verifying at this tick (inclusive)")
	cmd.Flags().Uint64Var(&o.ToTick, "to-tick", 0, "stop after this tick (inclusive, 0 = end of log)")
	return cmd
}
