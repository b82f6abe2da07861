package manifest

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/opst/importexec/cmd/importctl/subcommands/common"
	"github.com/opst/importexec/pkg/manifest"
	"github.com/youta-t/flarc"
)

type Flag struct {
	Output string `flag:"output" alias:"o" metavar:"path/to/manifest.yaml" help:"Write manifests into the file instead of stdout."`
}

const ARG_DESCRIPTOR = "DESCRIPTOR"

func New() (flarc.Command, error) {
	return flarc.NewCommand(
		"Render Kubernetes manifests of the executor from a deployment descriptor.",
		Flag{Output: "-"},
		flarc.Args{
			{
				Name: ARG_DESCRIPTOR, Required: true,
				Help: "Path to deployment descriptor (YAML).",
			},
		},
		common.NewTask(Task),
		flarc.WithDescription(`
Validate a deployment descriptor and render Namespace, BackendConfig,
Service, Deployment and Ingress as a multi-document YAML.

	{{ .Command }} deploy/executor.yaml | kubectl apply -f -
`),
	)
}

func Task(_ context.Context, logger *log.Logger, cl flarc.Commandline[Flag], _ []any) error {
	desc, err := manifest.Load(cl.Args()[ARG_DESCRIPTOR][0])
	if err != nil {
		return err
	}
	objs, err := manifest.Build(desc)
	if err != nil {
		return err
	}
	out, err := manifest.Render(objs)
	if err != nil {
		return err
	}

	if dest := cl.Flags().Output; dest != "-" && dest != "" {
		if err := os.WriteFile(dest, out, os.FileMode(0644)); err != nil {
			return fmt.Errorf("can not write manifests: %w", err)
		}
		logger.Printf("manifests are written to %s", dest)
		return nil
	}
	_, err = cl.Stdout().Write(out)
	return err
}
