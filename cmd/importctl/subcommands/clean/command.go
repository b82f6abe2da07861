package clean

import (
	"context"
	"fmt"
	"log"
	"os"

	gommonlog "github.com/labstack/gommon/log"
	"github.com/opst/importexec/cmd/importctl/subcommands/common"
	"github.com/opst/importexec/cmd/importctl/subcommands/sync/source"
	"github.com/opst/importexec/pkg/importer"
	"github.com/youta-t/flarc"
)

type Flag struct {
	Out        string `flag:"out" alias:"o" metavar:"DIR" help:"Directory where cleaned CSVs and templates are written."`
	Config     string `flag:"config" alias:"c" metavar:"path/to/executor.yaml" help:"Executor config declaring datasets and their remote copies. (env: EXECUTOR_CONFIG)"`
	Kubeconfig string `flag:"kubeconfig" metavar:"path/to/kubeconfig" help:"kubeconfig to access ConfigMap remotes. Overrides the one in the executor config."`
}

func (f Flag) sources() source.Flag {
	return source.Flag{Config: f.Config, Kubeconfig: f.Kubeconfig}
}

const ARG_CONFIG = "CONFIG"

// New creates "clean" command. When connect is nil, source.DefaultConnect is used.
func New(connect source.Connect, options ...importer.Option) (flarc.Command, error) {
	if connect == nil {
		connect = source.DefaultConnect
	}
	return flarc.NewCommand(
		"Download, validate and clean a dataset.",
		Flag{Out: "output", Config: os.Getenv(source.EnvConfig)},
		flarc.Args{
			{
				Name: ARG_CONFIG, Required: true,
				Help: "Dataset declared in the executor config, or path to dataset config (JSON).",
			},
		},
		common.NewTask(Task(connect, options...)),
		flarc.WithDescription(`
Import a dataset: each file in CONFIG is downloaded, validated and cleaned,
and a column-mapping template (.tmcf) is written next to the cleaned CSV.

Output files are replaced only when they are produced successfully.
Names of written files are printed to stdout.

When CONFIG is declared in the executor config (--config), it is checked
against its remote copy first, and the command fails without importing
when they have drifted or the remote copy is missing.

	{{ .Command }} county.json --out ./output
	{{ .Command }} county --config executor.yaml --out ./output
`),
	)
}

func Task(connect source.Connect, options ...importer.Option) common.Task[Flag] {
	return func(ctx context.Context, logger *log.Logger, cl flarc.Commandline[Flag], _ []any) error {
		ref := cl.Args()[ARG_CONFIG][0]
		conf, err := source.Resolve(ctx, logger, cl.Flags().sources(), connect, ref)
		if err != nil {
			return fmt.Errorf("can not load dataset config: %w", err)
		}

		runner := importer.New(append(
			[]importer.Option{importer.WithLogger(common.ComponentLogger(cl, gommonlog.INFO))},
			options...,
		)...)
		result, err := runner.Run(ctx, importer.Request{Config: conf, OutputDir: cl.Flags().Out})
		if err != nil {
			return err
		}
		return common.Report(logger, cl.Stdout(), result)
	}
}
