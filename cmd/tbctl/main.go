package main

import (
	"os"

	"github.com/tickbridge-systems/tickbridge/cmd/tbctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
