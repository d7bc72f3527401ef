// Package main provides the soapcheck command line tool.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/medscribe/soapflow/internal/cli"
	"github.com/medscribe/soapflow/internal/domain/soapnote"
)

func main() {
	err := cli.NewRootCommand(afero.NewOsFs()).Execute()
	if err == nil {
		return
	}
	if errors.Is(err, soapnote.ErrSubmissionBlocked) {
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(2)
}
