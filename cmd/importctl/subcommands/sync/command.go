package sync

import (
	"github.com/opst/importexec/cmd/importctl/subcommands/sync/check"
	"github.com/opst/importexec/cmd/importctl/subcommands/sync/publish"
	"github.com/opst/importexec/cmd/importctl/subcommands/sync/source"
	"github.com/youta-t/flarc"
)

// New creates "sync" command group. When connect is nil, source.DefaultConnect is used.
func New(connect source.Connect) (flarc.Command, error) {
	if connect == nil {
		connect = source.DefaultConnect
	}

	ch, err := check.New(connect)
	if err != nil {
		return nil, err
	}
	pub, err := publish.New(connect)
	if err != nil {
		return nil, err
	}
	return flarc.NewCommandGroup(
		"Check or publish remote copies of dataset configs.",
		source.DefaultFlag(),
		flarc.WithSubcommand("check", ch),
		flarc.WithSubcommand("publish", pub),
	)
}
