package main

import (
	"github.com/dyike/CortexFund/internal/cli"
)

func main() {
	cli.Run()
}
