// Command fartlooper serves an audio clip over HTTP and pushes it to every
// UPnP/DLNA renderer discovered on the LAN.
package main

import (
	"fmt"
	"os"

	"github.com/wyatt727/fartlooper/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fartlooper:", err)
		os.Exit(1)
	}
}
