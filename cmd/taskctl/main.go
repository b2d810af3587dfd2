// Command taskctl reconciles compute tasks against a remote task API.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for taskctl.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	// ExitCodeSoftFailure means the task was not found and creation was not
	// requested.
	ExitCodeSoftFailure = 2
)

// version can be set during build with -ldflags
var version = "dev"

func main() {
	root := newRootCmd()
	root.Version = version

	if err := root.Execute(); err != nil {
		if errors.Is(err, errSoftFailure) {
			os.Exit(ExitCodeSoftFailure)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(ExitCodeError)
	}
}
