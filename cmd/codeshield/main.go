package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sloppy/codeshield/internal/config"
	"github.com/sloppy/codeshield/internal/logging"
)

// exitError carries a specific process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e exitError) Error() string { return e.msg }

type globalFlags struct {
	configPath string
	debug      bool
}

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, out, errOut io.Writer) int {
	root := newRootCmd(out, errOut)
	if len(args) > 1 {
		root.SetArgs(args[1:])
	} else {
		root.SetArgs([]string{})
	}
	if err := root.Execute(); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(errOut, ee.msg)
			}
			return ee.code
		}
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	return 0
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "codeshield",
		Short:         "CodeShield - static security scanner with optional AI verification",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml (default: layered ~/.codeshield and ./.codeshield)")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newScanCmd(flags))
	root.AddCommand(newRulesCmd(flags))
	return root
}

// setup resolves configuration and the logger shared by every command.
func setup(cmd *cobra.Command, flags *globalFlags) (config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = flags.debug
	}
	log, err := logging.New(cfg.Debug)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}
