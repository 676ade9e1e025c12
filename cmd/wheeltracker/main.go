// Command wheeltracker imports brokerage transaction history and reports on
// options wheel positions.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
