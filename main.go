package main

import (
	"fmt"
	"os"

	"github.com/notabene-ai/notabene/cmd/root"
)

func main() {
	if err := root.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
