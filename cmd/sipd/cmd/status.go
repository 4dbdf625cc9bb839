package cmd

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/initbar/sipd/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a daemon appears to be listening",
	Long: `Best-effort check: sends an OPTIONS ping to the configured listen
address. sipd has no control-plane IPC, so this cannot distinguish "no
daemon" from "a daemon that isn't this one" — it only reports whether
something answers on the socket (matches firestige-Otus's own
status.go, which is similarly best-effort without a real control
channel).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

func runStatus() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		exitWithCode(unix.EINVAL, "invalid configuration", err)
		return nil
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if cfg.Server.Host == "0.0.0.0" {
		addr = fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	}

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		fmt.Printf("UNKNOWN: could not reach %s: %v\n", addr, err)
		return nil
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		fmt.Printf("UNKNOWN: could not open a local socket: %v\n", err)
		return nil
	}
	defer conn.Close()

	// The daemon replies from a worker's own socket, not from the listen
	// socket, so the probe socket stays unconnected and accepts a reply
	// from any port; send an OPTIONS ping and wait briefly for it.
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.WriteToUDP([]byte("OPTIONS sip:status@"+addr+" SIP/2.0\r\nCall-ID: status-check\r\nCSeq: 1 OPTIONS\r\n\r\n"), raddr); err != nil {
		fmt.Printf("UNKNOWN: write failed: %v\n", err)
		return nil
	}

	buf := make([]byte, 512)
	if _, err := conn.Read(buf); err != nil {
		fmt.Printf("DOWN: no reply from %s\n", addr)
		return nil
	}
	fmt.Printf("UP: %s answered\n", addr)
	return nil
}
