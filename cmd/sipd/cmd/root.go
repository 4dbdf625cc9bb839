// Package cmd implements the sipd command-line interface, grounded on
// firestige-Otus/cmd/{root,start,status,stop,validate}.go's cobra
// command layout.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "sipd",
	Short: "Active-recording SIP daemon",
	Long: `sipd answers INVITE/ACK/BYE/CANCEL/OPTIONS on a single UDP
socket, negotiates RTP ports with an external recording engine, and
tracks live calls until they're torn down by BYE or expire.`,
}

// Execute runs the root command. Called once from main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (JSON or YAML); unset uses built-in defaults")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
}

// exitWithCode prints msg (with err if present) to stderr and exits
// with the given POSIX errno, per SPEC_FULL.md §6.4.
func exitWithCode(code unix.Errno, msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "sipd: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "sipd: %s\n", msg)
	}
	os.Exit(int(code))
}
