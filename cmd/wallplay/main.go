// Package main is the entry point for the wallplay application.
package main

import (
	"os"

	"github.com/wallplay/wallplay/cmd/wallplay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
