package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/lupppig/appvault/cmd"
	apperrors "github.com/lupppig/appvault/internal/errors"
)

const (
	EXIT_SUCCESS = iota
	EXIT_FAILURE
)

func main() {
	if err := cmd.Execute(); err != nil {
		exitOnError(err)
	}

	os.Exit(EXIT_SUCCESS)
}

func exitOnError(err error) {
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	var ae *apperrors.AppError
	if errors.As(err, &ae) && ae.Hint != "" {
		fmt.Fprintf(os.Stderr, "hint: %s\n", ae.Hint)
	}
	os.Exit(EXIT_FAILURE)
}
