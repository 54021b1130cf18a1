package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/dialdeck/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	go autorestart.RestartOnChange()

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
