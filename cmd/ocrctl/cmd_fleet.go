package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ocrtool/ocrtool/internal/app"
	"github.com/ocrtool/ocrtool/internal/config"
	"github.com/ocrtool/ocrtool/internal/service"
	"github.com/ocrtool/ocrtool/internal/topology"
	"github.com/ocrtool/ocrtool/pkg/ssh"
)

// loadApp 读取配置并组装组件；命令行下日志只输出到终端
func loadApp() (*app.App, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if topologyFlag != "" {
		cfg.Topology.Path = topologyFlag
	}
	cfg.Log.Output = "console"
	if verboseFlag {
		cfg.Log.Level = "debug"
	} else if cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
	if err := app.InitLogger(cfg.Log); err != nil {
		return nil, err
	}
	a, err := app.New(cfg, app.Options{})
	if err != nil {
		return nil, err
	}
	if a.Store.Current() == nil {
		// 再加载一次以返回具体的错误
		if err := a.Store.Reload(); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newGatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gates",
		Short: "List gates in the topology",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()
			fleet := a.Store.Current()
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), fleet.GateNames())
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "GATE\tDEVICES")
			for _, g := range fleet.Gates() {
				fmt.Fprintf(tw, "%s\t%d\n", g.Name, len(g.Devices))
			}
			return tw.Flush()
		},
	}
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices <gate>",
		Short: "List devices of a gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()
			devices, ok := a.Store.Current().DevicesOf(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", service.ErrGateNotFound, args[0])
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tADDRESS\tUSER\tCOMMAND")
			for _, d := range devices {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Address, d.Username, d.StatusCommand)
			}
			return tw.Flush()
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <gate>",
		Short: "Run the status probe on every device of a gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()
			outcomes, err := a.Fleet.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			views := service.NewStatusViews(outcomes)
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), views)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DEVICE\tUP\tRESULT")
			for _, v := range views {
				result := v.Payload
				if !v.OK() {
					result = "ERROR: " + v.Error
				}
				fmt.Fprintf(tw, "%s\t%t\t%s\n", v.Name, v.Up, result)
			}
			return tw.Flush()
		},
	}
}

func newSelectionCmd(name string) *cobra.Command {
	op := service.Operation(name)
	short := "Restart the OCR service on selected devices"
	if op == service.OpReboot {
		short = "Reboot selected devices"
	}
	return &cobra.Command{
		Use:   name + " <gate> <device>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := service.CheckSelection(args[1:]); err != nil {
				return err
			}
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			launch := a.Fleet.Restart
			if op == service.OpReboot {
				launch = a.Fleet.Reboot
			}
			job, err := launch(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			if _, err := job.Wait(cmd.Context()); err != nil {
				return err
			}
			view := job.View()
			if jsonFlag {
				if err := printJSON(cmd.OutOrStdout(), view); err != nil {
					return err
				}
			} else if err := printOutcomes(cmd.OutOrStdout(), view.Outcomes); err != nil {
				return err
			}
			if len(view.Targets) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no device in the gate matched the selection")
			}
			if view.Failed > 0 {
				return errDeviceFailure
			}
			return nil
		},
	}
}

func printOutcomes(w io.Writer, outcomes []ssh.Outcome) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tRESULT\tDURATION")
	for _, o := range outcomes {
		result := "ok"
		if !o.OK() {
			result = "ERROR: " + o.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%dms\n", o.Name, result, o.DurationMS)
	}
	return tw.Flush()
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Ping every device of every gate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var results []service.Reachability
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if !jsonFlag {
				fmt.Fprintln(tw, "GATE\tDEVICE\tADDRESS\tREACHABLE")
			}
			for r := range a.Sweeper.Stream(cmd.Context(), a.Store.Current()) {
				results = append(results, r)
				if !jsonFlag {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", r.Gate, r.Device, r.Address, r.Reachable)
				}
			}
			if jsonFlag {
				return printJSON(cmd.OutOrStdout(), results)
			}
			return tw.Flush()
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a topology document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fleet, err := topology.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d gates, %d devices\n", len(fleet.GateNames()), fleet.DeviceCount())
			return nil
		},
	}
}
