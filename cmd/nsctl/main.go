// Command nsctl manages the namespace directory of a kvns store
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
