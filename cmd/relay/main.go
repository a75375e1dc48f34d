package main

import (
	"os"

	"github.com/relayctl/relay/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
