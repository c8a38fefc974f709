package main

import (
	"os"

	"github.com/biosmarket/settlement/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
