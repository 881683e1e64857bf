// Package main is the entry point for the mediasift application.
package main

import (
	"os"

	"github.com/mediasift/mediasift/cmd/mediasift/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
