package main

import (
	"fmt"
	"os"

	"wasp/cmd/wasp/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
