package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFlag   string
	topologyFlag string
	jsonFlag     bool
	verboseFlag  bool
)

// errDeviceFailure 至少一台设备执行失败，退出码 2
var errDeviceFailure = errors.New("one or more devices failed")

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ocrctl",
		Short: "Operate OCR gate devices from the command line",
		Long: `ocrctl runs fleet operations directly against a topology file.

  ocrctl gates                        # list gates
  ocrctl devices <gate>               # list devices of a gate
  ocrctl status <gate>                # poll every device of a gate
  ocrctl restart <gate> <device>...   # restart the OCR service on selected devices
  ocrctl reboot <gate> <device>...    # reboot selected devices
  ocrctl sweep                        # ICMP reachability sweep over all gates
  ocrctl validate <file>              # validate a topology document`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to config.yaml")
	rootCmd.PersistentFlags().StringVarP(&topologyFlag, "topology", "t", "", "path to topology JSON (overrides topology.path)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(
		newGatesCmd(),
		newDevicesCmd(),
		newStatusCmd(),
		newSelectionCmd("restart"),
		newSelectionCmd("reboot"),
		newSweepCmd(),
		newValidateCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errDeviceFailure) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
