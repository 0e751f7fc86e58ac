package main

import (
	"os"

	"github.com/iammorganparry/clive/apps/ltm/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
