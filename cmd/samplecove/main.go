// Package main is the entry point for the samplecove server.
package main

import (
	"os"

	"github.com/samplecove/samplecove/cmd/samplecove/app"
	"github.com/samplecove/samplecove/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
