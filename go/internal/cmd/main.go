package main

import (
	"os"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	setVersionInfo(version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
