package main

import (
	"os"

	"github.com/cryptobuks/truebit-os/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
