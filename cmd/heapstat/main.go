package main

import (
	"os"

	"github.com/go-heapstat/heapstat/cmd/heapstat/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
