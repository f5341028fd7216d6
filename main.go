package main

import (
	"fmt"
	"os"

	"yosegi/internal/yosegi"
)

func main() {
	if err := yosegi.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
