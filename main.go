// Command sharly learns and explains smart-home event-sequence behavior.
// See cmd.Execute for the command tree.
package main

import (
	"fmt"
	"os"

	"github.com/jtomasevic/sharly/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
