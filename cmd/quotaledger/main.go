package main

import (
	"os"

	"github.com/quotaledger/quotaledger/internal/cli"
)

func main() {
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}
