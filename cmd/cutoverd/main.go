// Package main is the entry point for the cutover control plane daemon.
package main

import (
	"os"

	"github.com/cutover-sh/cutover/cmd/cutoverd/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
