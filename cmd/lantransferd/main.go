// lantransferd is a zero-configuration LAN file and folder transfer tool:
// it discovers peers via mDNS and sends or receives over a chunked,
// resumable HTTP protocol.
package main

import (
	"fmt"
	"os"

	"github.com/digster/lan-file-transfer/internal/cli"
)

var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	cli.Version = Version
	cli.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
