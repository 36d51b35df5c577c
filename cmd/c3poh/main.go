package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/cli"
)

func main() {
	// Load .env file; a missing file is fine, the environment may be set already
	_ = godotenv.Load()

	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "c3poh: %v\n", err)
		os.Exit(1)
	}
}
