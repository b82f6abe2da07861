package publish

import (
	"context"
	"fmt"
	"log"

	"github.com/opst/importexec/cmd/importctl/subcommands/common"
	"github.com/opst/importexec/cmd/importctl/subcommands/sync/source"
	"github.com/youta-t/flarc"
)

const ARG_DATASET = "DATASET"

func New(connect source.Connect) (flarc.Command, error) {
	return flarc.NewCommand(
		"Publish local dataset configs to their remote copies.",
		struct{}{},
		flarc.Args{
			{
				Name: ARG_DATASET, Required: true, Repeatable: true,
				Help: "Dataset to be published.",
			},
		},
		common.NewTask(Task(connect)),
		flarc.WithDescription(`
Overwrite the remote copy of each DATASET with its local config.

The local config is the source of truth. It is validated before publishing,
so an invalid config never reaches the remote copy.
`),
	)
}

func Task(connect source.Connect) common.Task[struct{}] {
	return func(ctx context.Context, logger *log.Logger, cl flarc.Commandline[struct{}], params []any) error {
		flags, err := source.FlagOf(params)
		if err != nil {
			return err
		}
		names, sources, err := source.Load(flags, connect, cl.Args()[ARG_DATASET])
		if err != nil {
			return err
		}

		for _, name := range names {
			src := sources[name]
			if src.Remote == nil {
				return fmt.Errorf("%w: dataset %s has no remote copy", flarc.ErrUsage, name)
			}
			stamp, err := src.Publish(ctx)
			if err != nil {
				return fmt.Errorf("dataset %s: %w", name, err)
			}
			fmt.Fprintf(cl.Stdout(), "%s\t%s @ %s\n", name, stamp, src.Remote.Location())
		}
		logger.Printf("%d dataset configs are published", len(names))
		return nil
	}
}
