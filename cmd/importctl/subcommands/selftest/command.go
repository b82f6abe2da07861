package selftest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	gommonlog "github.com/labstack/gommon/log"
	"github.com/opst/importexec/cmd/importctl/subcommands/common"
	"github.com/opst/importexec/cmd/importctl/subcommands/sync/source"
	"github.com/opst/importexec/pkg/importer"
	"github.com/youta-t/flarc"
)

var ErrDifferent = errors.New("output differs from expected")

type Flag struct {
	Keep       bool   `flag:"keep" help:"Keep produced files, and print where they are."`
	Config     string `flag:"config" alias:"c" metavar:"path/to/executor.yaml" help:"Executor config declaring datasets and their remote copies. (env: EXECUTOR_CONFIG)"`
	Kubeconfig string `flag:"kubeconfig" metavar:"path/to/kubeconfig" help:"kubeconfig to access ConfigMap remotes. Overrides the one in the executor config."`
}

const (
	ARG_CONFIG   = "CONFIG"
	ARG_EXPECTED = "EXPECTED_DIR"
)

// New creates "selftest" command. When connect is nil, source.DefaultConnect is used.
func New(connect source.Connect, options ...importer.Option) (flarc.Command, error) {
	if connect == nil {
		connect = source.DefaultConnect
	}
	return flarc.NewCommand(
		"Import a dataset into a temporary directory and compare it with expected files.",
		Flag{Config: os.Getenv(source.EnvConfig)},
		flarc.Args{
			{
				Name: ARG_CONFIG, Required: true,
				Help: "Dataset declared in the executor config, or path to dataset config (JSON).",
			},
			{
				Name: ARG_EXPECTED, Required: true,
				Help: "Directory of expected output.",
			},
		},
		common.NewTask(Task(connect, options...)),
		flarc.WithDescription(`
Import CONFIG into a temporary directory, and compare the produced files
with EXPECTED_DIR. Differences are printed to stdout, and the command fails
when there are any.

A dataset declared in the executor config (--config) is checked against its
remote copy before importing, as "clean" does.

	{{ .Command }} testdata/county.json testdata/expected
`),
	)
}

func Task(connect source.Connect, options ...importer.Option) common.Task[Flag] {
	return func(ctx context.Context, logger *log.Logger, cl flarc.Commandline[Flag], _ []any) error {
		args := cl.Args()
		flags := cl.Flags()
		conf, err := source.Resolve(
			ctx, logger, source.Flag{Config: flags.Config, Kubeconfig: flags.Kubeconfig}, connect, args[ARG_CONFIG][0],
		)
		if err != nil {
			return fmt.Errorf("can not load dataset config: %w", err)
		}
		expected := args[ARG_EXPECTED][0]
		if fi, err := os.Stat(expected); err != nil {
			return err
		} else if !fi.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", flarc.ErrUsage, expected)
		}

		out, err := os.MkdirTemp("", "importctl-selftest-")
		if err != nil {
			return err
		}
		if flags.Keep {
			logger.Printf("produced files are in %s", out)
		} else {
			defer os.RemoveAll(out)
		}

		runner := importer.New(append(
			[]importer.Option{importer.WithLogger(common.ComponentLogger(cl, gommonlog.WARN))},
			options...,
		)...)
		result, err := runner.Run(ctx, importer.Request{Config: conf, OutputDir: out})
		if err != nil {
			return err
		}
		if err := common.Report(logger, cl.Stderr(), result); err != nil {
			return err
		}

		diffs, err := importer.Compare(out, expected)
		if err != nil {
			return err
		}
		for _, d := range diffs {
			fmt.Fprintln(cl.Stdout(), d)
		}
		if len(diffs) != 0 {
			return fmt.Errorf("%w: %d files", ErrDifferent, len(diffs))
		}
		logger.Printf("OK: output matches %s", expected)
		return nil
	}
}
