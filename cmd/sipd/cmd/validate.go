package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/initbar/sipd/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file without starting the daemon",
	Long: `Load and type-check a configuration file (JSON or YAML, auto-detected
from its extension) and report whether it is usable, without binding any
socket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate()
	},
}

func runValidate() error {
	if configFile == "" {
		exitWithCode(unix.EINVAL, "validate requires -c/--config", nil)
		return nil
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		exitWithCode(unix.EINVAL, "configuration is invalid", err)
		return nil
	}

	fmt.Printf("VALID: %s — %d worker(s) requested, %d RTP handler(s), listen %s:%d\n",
		configFile, cfg.SIP.Worker.Count, len(cfg.RTP.Handlers), cfg.Server.Host, cfg.Server.Port)
	return nil
}
