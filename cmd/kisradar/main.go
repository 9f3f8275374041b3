package main

import (
	"os"

	"github.com/wonny/kisradar/cmd/kisradar/commands"
)

// main is the entry point for the kisradar CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/kisradar [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
