package main

import (
	"os"

	"github.com/sqlmedic/sqlmedic/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
