package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"

	"github.com/opst/importexec/cmd/importctl/subcommands/clean"
	"github.com/opst/importexec/cmd/importctl/subcommands/download"
	"github.com/opst/importexec/cmd/importctl/subcommands/manifest"
	"github.com/opst/importexec/cmd/importctl/subcommands/selftest"
	subsync "github.com/opst/importexec/cmd/importctl/subcommands/sync"
	subver "github.com/opst/importexec/cmd/importctl/subcommands/version"
	"github.com/opst/importexec/pkg/utils/try"
	"github.com/youta-t/flarc"
)

func main() {
	name := path.Base(os.Args[0])
	logger := log.Default()
	logger.SetPrefix(fmt.Sprintf("[%s] ", name))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	dl := try.To(download.New()).OrFatal(logger)
	cl := try.To(clean.New(nil)).OrFatal(logger)
	st := try.To(selftest.New(nil)).OrFatal(logger)
	sy := try.To(subsync.New(nil)).OrFatal(logger)
	mf := try.To(manifest.New()).OrFatal(logger)
	ver := try.To(subver.New()).OrFatal(logger)

	importctl := try.To(
		flarc.NewCommandGroup(
			"Operator tools for statistical-data imports.",
			struct{}{},
			flarc.WithSubcommand("download", dl),
			flarc.WithSubcommand("clean", cl),
			flarc.WithSubcommand("selftest", st),
			flarc.WithSubcommand("sync", sy),
			flarc.WithSubcommand("manifest", mf),
			flarc.WithSubcommand("version", ver),
		),
	).OrFatal(logger)

	os.Exit(flarc.Run(ctx, importctl, flarc.WithHelp(true)))
}
