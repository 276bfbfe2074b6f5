// Command devdata manages mailsweep data directories for development.
package main

import (
	"os"

	"github.com/mailsweep/mailsweep/tools/devdata/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
