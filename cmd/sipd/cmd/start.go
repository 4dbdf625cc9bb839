package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/initbar/sipd"
	"github.com/initbar/sipd/internal/config"
)

var foreground bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long:  "Load configuration, bind the listen socket, and serve until a signal requests shutdown.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart()
	},
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", true,
		"run in the foreground (sipd has no daemonizing fork/detach path; this flag is kept for operator familiarity)")
}

func runStart() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		exitWithCode(unix.EINVAL, "invalid configuration", err)
		return nil
	}

	d := sipd.New(cfg)
	log := d.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("sipd: received shutdown signal")
		cancel()
	}()

	if err := d.Run(ctx); err != nil {
		exitWithCode(unix.EAGAIN, "daemon exited with error", err)
		return nil
	}
	return nil
}
