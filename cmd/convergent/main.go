package main

import (
	"os"

	"github.com/kenpal-inc/convergent/internal/interfaces/cli"
)

func main() {
	os.Exit(cli.Execute())
}
