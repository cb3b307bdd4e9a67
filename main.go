package main

import (
	"os"

	"github.com/niktheblak/sensor-node/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
