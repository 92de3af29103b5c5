package main

import (
	"os"

	"github.com/noemakg/noema/cmd/noema"
)

func main() {
	if err := noema.Execute(); err != nil {
		os.Exit(1)
	}
}
