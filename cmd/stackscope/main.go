package main

import (
	"github.com/stackscope/stackscope/internal/cli"
	"github.com/stackscope/stackscope/pkg/maxprocs"
)

func main() {
	maxprocs.Adjust()
	cli.Execute()
}
