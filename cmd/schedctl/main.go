// Command schedctl is the operator CLI for the scheduling agent: inspect and
// reset conversations, dry-run the decision engine and work the dead-letter
// table.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
