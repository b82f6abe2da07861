package check

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/opst/importexec/cmd/importctl/subcommands/common"
	"github.com/opst/importexec/cmd/importctl/subcommands/sync/source"
	"github.com/youta-t/flarc"
)

var ErrNotInSync = errors.New("dataset configs are not in sync")

const ARG_DATASET = "DATASET"

func New(connect source.Connect) (flarc.Command, error) {
	return flarc.NewCommand(
		"Check local dataset configs against their remote copies.",
		struct{}{},
		flarc.Args{
			{
				Name: ARG_DATASET, Required: false, Repeatable: true,
				Help: "Dataset to be checked. All datasets when omitted.",
			},
		},
		common.NewTask(Task(connect)),
		flarc.WithDescription(`
Compare each local dataset config with its remote copy, byte by byte.

For each dataset, a line "NAME<TAB>STATUS<TAB>DETAIL" is printed.
STATUS is one of "in-sync", "local-only", or "NG".
The command fails when any dataset is NG.
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

		ng := 0
		for _, name := range names {
			src := sources[name]
			_, rep, err := src.Load(ctx)
			switch {
			case err != nil:
				ng += 1
				fmt.Fprintf(cl.Stdout(), "%s\tNG\t%s\n", name, err)
			case src.Remote == nil:
				fmt.Fprintf(cl.Stdout(), "%s\tlocal-only\t%s\n", name, rep.Local)
			default:
				fmt.Fprintf(cl.Stdout(), "%s\tin-sync\t%s @ %s\n", name, rep.Local, rep.Location)
			}
		}
		if 0 < ng {
			logger.Printf("publish local configs with 'sync publish' to fix drifts.")
			return fmt.Errorf("%w: %d of %d", ErrNotInSync, ng, len(names))
		}
		return nil
	}
}
