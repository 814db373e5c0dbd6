package main

import (
	"os"

	"github.com/tracelens/backend/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
