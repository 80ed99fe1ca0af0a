package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	loadDotEnv(".env")

	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}

// loadDotEnv reads KEY=VALUE pairs from path into the environment. Variables
// already set win over the file, and a missing file is not an error.
func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: ignoring %s: %v\n", path, err)
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
