// Command publishctl submits videos to the fanout publisher API and inspects jobs.
package main

import (
	"os"

	"github.com/cuongbtq/fanout-publisher/cmd/publishctl/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
