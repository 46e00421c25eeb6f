// Package main provides the ruralcast CLI entry point.
// ruralcast picks video, audio or text lessons to match the learner's connection.
package main

import (
	"fmt"
	"os"

	"github.com/ruralcast/ruralcast/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
