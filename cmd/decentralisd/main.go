// Command decentralisd hosts the chunking core: the long-running
// serve subcommand runs the RPC server, tracker client, chunking
// manager and replication manager together, while chunk, distribute,
// reconstruct, and status are one-shot operator commands useful for
// scripting and tests.
package main

import (
	"os"

	"github.com/decentralis-net/decentralis-core/cmd/decentralisd/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
