// Package main provides the entry point for the waypoints CLI.
package main

import (
	"os"

	"github.com/randalmurphal/waypoints/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
