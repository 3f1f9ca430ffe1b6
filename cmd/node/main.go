// docsync-node runs one peer of a statically configured document replication cluster.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anthanhphan/go-docsync/internal/node/app"
	"github.com/anthanhphan/go-docsync/internal/node/config"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

const (
	exitUsage          = 1
	exitConfigNotFound = 2
	exitInvalidConfig  = 3
	exitRuntime        = 4
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "docsync-node <config-file>",
		Short:   "Run a docsync peer node",
		Long:    "Runs a peer node that replicates every document in its root to the neighbors listed in the config file.",
		Version: fmt.Sprintf("%s (%s)", Version, Commit),
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			return run(args[0])
		},
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			return &exitError{code: exitConfigNotFound, err: err}
		}
		return &exitError{code: exitInvalidConfig, err: err}
	}

	application, err := app.New(cfg)
	if err != nil {
		return &exitError{code: exitInvalidConfig, err: fmt.Errorf("failed to initialize node: %w", err)}
	}

	if err := application.Run(); err != nil {
		return &exitError{code: exitRuntime, err: err}
	}
	return nil
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// cobra's own flag parsing errors
	return exitUsage
}

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if ee := (*exitError)(nil); !errors.As(err, &ee) || ee.code == exitUsage {
			fmt.Fprintln(os.Stderr, cmd.UsageString())
		}
		os.Exit(exitCode(err))
	}
}
