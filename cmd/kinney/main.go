// Command kinney scores Kinney risk questionnaires offline, against the
// embedded question bank or a custom one.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// exitErr carries a process exit code through cobra's error return.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

func exitError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// Exit codes.
const (
	exitInvalidInput = 2
	exitLoadFailure  = 3
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kinney",
		Short:         "Score risks with the Kinney method (G × F × P)",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().String("bank", "", "Question bank file (YAML or JSON); default: embedded bank")
	root.PersistentFlags().String("format", "yaml", "Output format: yaml or json")

	root.AddCommand(newQuestionsCmd(), newScoreCmd(), newResidualCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, ee.msg)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
