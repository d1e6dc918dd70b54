// Command agentcoder is the operator CLI.
//
//	agentcoder run "write a function that reverses a string"
//	echo "..." | agentcoder run
//	agentcoder token --subject alice --ttl 24h
//
// `run` drives one requirement through the pipeline in this process, with
// the same model and sandbox configuration the server uses. Its exit
// status tells scripts how the run ended: 0 succeeded, 1 exhausted,
// 2 failed or canceled.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit statuses of `agentcoder run`.
const (
	exitSucceeded = 0
	exitExhausted = 1
	exitFailed    = 2
)

// exitError carries a process exit status out of a command. A nil err
// means the command already reported everything it had to say.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(execute(newRootCmd()))
}

// execute runs root and turns its error into an exit status.
func execute(root *cobra.Command) int {
	err := root.Execute()
	if err == nil {
		return exitSucceeded
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(root.ErrOrStderr(), styles.Error.Render("error: ")+ee.err.Error())
		}
		return ee.code
	}
	fmt.Fprintln(root.ErrOrStderr(), styles.Error.Render("error: ")+err.Error())
	return exitFailed
}

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "agentcoder",
		Short: "Turn a plain-language requirement into tested code",
		Long: `agentcoder asks a language model for code and test cases, runs the code
against the tests in a sandbox and feeds failures back to the model until
the tests pass or the retry budget runs out.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("AGENTCODER_CONFIG"),
		"YAML configuration file (environment variables override it)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn",
		"log level for diagnostics on stderr (debug, info, warn, error)")

	root.AddCommand(newRunCmd(opts), newTokenCmd(opts))
	return root
}
