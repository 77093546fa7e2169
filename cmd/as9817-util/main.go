// as9817-util is the platform utility for the Accton AS9817-32O switch.
// It loads the platform kernel modules, instantiates the i2c device
// nodes, tunes the DS250DF810 retimer and manages thermal thresholds.
//
// Usage:
//
//	as9817-util install
//	as9817-util clean
//	as9817-util sfp --f25
//	as9817-util sfp status
//	as9817-util threshold -l
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/edge-core/as9817-util/pkg/config"
	"github.com/edge-core/as9817-util/pkg/i2c"
	"github.com/edge-core/as9817-util/pkg/install"
	"github.com/edge-core/as9817-util/pkg/retimer"
	"github.com/edge-core/as9817-util/pkg/status"
	"github.com/edge-core/as9817-util/pkg/thermal"
	"github.com/edge-core/as9817-util/pkg/types"
)

// Exit codes following CLI conventions.
const (
	exitOK           = 0
	exitRuntimeError = 1
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRuntimeError)
	}
}

// rootCmd builds the top-level cobra command tree.
func rootCmd() *cobra.Command {
	opts := &types.Options{}
	var configPath string

	root := &cobra.Command{
		Use:   "as9817-util",
		Short: "AS9817-32O platform utility",
		Long:  "A platform utility for the Accton AS9817-32O switch: kernel module and i2c device setup, retimer tuning and thermal threshold management.",
		// Silence default usage on runtime errors; we handle exit codes ourselves.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.Debug {
				log.SetLevel(log.DebugLevel)
			}
		},
	}

	root.PersistentFlags().BoolVarP(&opts.Debug, "debug", "d", false, "Enable verbose command and sysfs tracing")
	root.PersistentFlags().BoolVarP(&opts.Force, "force", "f", false, "Continue install/clean sequences past a failed step")
	root.PersistentFlags().StringVar(&configPath, "config", "", "Platform description override file (YAML)")

	root.AddCommand(
		newInstallCmd(opts, &configPath),
		newCleanCmd(opts, &configPath),
		newSfpCmd(opts, &configPath),
		newThresholdCmd(&configPath),
		newVersionCmd(),
	)

	return root
}

// ──────────────────────────────────────────────
//  install
// ──────────────────────────────────────────────

func newInstallCmd(opts *types.Options, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Load platform drivers and create the i2c device nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ins := install.New(p, *opts, nil, cmd.OutOrStdout())
			if err := ins.Install(); err != nil {
				return fmt.Errorf("install failed: %w", err)
			}
			return nil
		},
	}
}

// ──────────────────────────────────────────────
//  clean
// ──────────────────────────────────────────────

func newCleanCmd(opts *types.Options, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the i2c device nodes and unload platform drivers",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ins := install.New(p, *opts, nil, cmd.OutOrStdout())
			if err := ins.Uninstall(); err != nil {
				return fmt.Errorf("clean failed: %w", err)
			}
			return nil
		},
	}
}

// ──────────────────────────────────────────────
//  sfp
// ──────────────────────────────────────────────

func newSfpCmd(opts *types.Options, configPath *string) *cobra.Command {
	var (
		cpu bool
		f10 bool
		f25 bool
	)

	cmd := &cobra.Command{
		Use:   "sfp",
		Short: "Route the SFP28 management lanes through the retimer",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = opts.Force

			p, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			dest, speed := retimer.DestFront, retimer.Speed25G
			switch {
			case cpu:
				dest, speed = retimer.DestCPU, retimer.Speed10G
			case f10:
				dest, speed = retimer.DestFront, retimer.Speed10G
			}

			rt := retimer.New(i2c.New(p.RetimerBus, nil), p.RetimerAddr, p.RetimerMuxAddr, cmd.OutOrStdout())
			if err := rt.Configure(dest, speed); err != nil {
				return fmt.Errorf("retimer configuration failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&cpu, "cpu", "c", false, "Route lanes to the CPU at 10G")
	cmd.Flags().BoolVar(&f10, "f10", false, "Route lanes to the front panel at 10G")
	cmd.Flags().BoolVar(&f25, "f25", false, "Route lanes to the front panel at 25G")

	cmd.MarkFlagsMutuallyExclusive("cpu", "f10", "f25")
	cmd.MarkFlagsOneRequired("cpu", "f10", "f25")

	cmd.AddCommand(newSfpStatusCmd(configPath))

	return cmd
}

func newSfpStatusCmd(configPath *string) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show presence, type and health of every front-panel port",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			statuses := status.Collect(p)
			switch output {
			case "json":
				return status.PrintJSON(cmd.OutOrStdout(), statuses)
			default:
				status.PrintTable(cmd.OutOrStdout(), statuses)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "table", "Output format (table|json)")

	return cmd
}

// ──────────────────────────────────────────────
//  threshold
// ──────────────────────────────────────────────

func newThresholdCmd(configPath *string) *cobra.Command {
	var (
		list   bool
		sensor string
		high   float64
		hiCrit float64
	)

	cmd := &cobra.Command{
		Use:   "threshold",
		Short: "List or set thermal sensor thresholds",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			m := thermal.New(p)

			if list {
				thermal.PrintTable(cmd.OutOrStdout(), m.List())
				return nil
			}

			var highPtr, hiCritPtr *float64
			if cmd.Flags().Changed("ht") {
				highPtr = &high
			}
			if cmd.Flags().Changed("hct") {
				hiCritPtr = &hiCrit
			}
			if highPtr == nil && hiCritPtr == nil {
				return fmt.Errorf("no threshold value given; use --ht and/or --hct")
			}

			if err := m.Apply(sensor, highPtr, hiCritPtr); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Thresholds updated for %s\n", sensor)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "List sensors with their thresholds")
	cmd.Flags().StringVarP(&sensor, "thermal", "t", "", "Sensor name to modify (e.g. \"Temp sensor 1\")")
	cmd.Flags().Float64Var(&high, "ht", 0, "High threshold in degrees Celsius (30.0 ~ 110.0)")
	cmd.Flags().Float64Var(&hiCrit, "hct", 0, "High critical threshold in degrees Celsius (30.0 ~ 110.0)")

	cmd.MarkFlagsMutuallyExclusive("list", "thermal")
	cmd.MarkFlagsOneRequired("list", "thermal")
	cmd.MarkFlagsMutuallyExclusive("list", "ht")
	cmd.MarkFlagsMutuallyExclusive("list", "hct")

	return cmd
}

// ──────────────────────────────────────────────
//  version
// ──────────────────────────────────────────────

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "as9817-util %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}
