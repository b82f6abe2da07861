package download

import (
	"context"
	"fmt"
	"log"

	gommonlog "github.com/labstack/gommon/log"
	"github.com/opst/importexec/cmd/importctl/subcommands/common"
	"github.com/opst/importexec/pkg/dataset"
	"github.com/opst/importexec/pkg/importer"
	"github.com/youta-t/flarc"
)

type Flag struct {
	Config string `flag:"config" alias:"c" metavar:"path/to/config.json" help:"Dataset config listing files to be downloaded."`
	Out    string `flag:"out" alias:"o" metavar:"DIR" help:"Directory where downloaded files are saved."`
}

func New(options ...importer.Option) (flarc.Command, error) {
	return flarc.NewCommand(
		"Download source files of a dataset, as they are.",
		Flag{Config: "config.json", Out: "source_data"},
		flarc.Args{},
		common.NewTask(Task(options...)),
		flarc.WithDescription(`
Download all source files listed in a dataset config into a directory.

Files are saved as they are, without validation. A failure of a file does
not stop downloading others; the command fails after all files are tried.

	{{ .Command }}
	{{ .Command }} --config county.json --out ./raw
`),
	)
}

func Task(options ...importer.Option) common.Task[Flag] {
	return func(ctx context.Context, logger *log.Logger, cl flarc.Commandline[Flag], _ []any) error {
		flags := cl.Flags()

		conf, _, err := dataset.Load(flags.Config)
		if err != nil {
			return fmt.Errorf("can not read dataset config: %w", err)
		}

		runner := importer.New(append(
			[]importer.Option{importer.WithLogger(common.ComponentLogger(cl, gommonlog.INFO))},
			options...,
		)...)
		result, err := runner.Download(ctx, importer.Request{Config: conf, OutputDir: flags.Out})
		if err != nil {
			return err
		}
		return common.Report(logger, cl.Stdout(), result)
	}
}
