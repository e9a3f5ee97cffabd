package main

import (
	"github.com/lumen-re/lumen/internal/cli"
)

func main() {
	cli.Execute()
}
