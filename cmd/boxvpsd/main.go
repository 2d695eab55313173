package main

import (
	"os"

	"github.com/boxvps/boxvpsd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
