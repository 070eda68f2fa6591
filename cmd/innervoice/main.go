package main

import (
	"fmt"
	"os"

	"innervoice/cmd/innervoice/cmd"
	"innervoice/internal/config"
)

func main() {
	if _, err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	cmd.Execute()
}
