// Command parleyd runs the parley session gateway daemon.
package main

import (
	"os"

	"github.com/hfaried/parley/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
