package main

import (
	"os"

	"github.com/g-flame/airlink-panel/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
