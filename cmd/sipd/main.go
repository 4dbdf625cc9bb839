// Command sipd is the active-recording SIP daemon's entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/initbar/sipd/cmd/sipd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
