package main

import (
	"os"

	"github.com/aiox-platform/companion/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
