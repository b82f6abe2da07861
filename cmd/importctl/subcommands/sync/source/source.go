// Package source resolves dataset config sources from the executor config,
// for subcommands of "sync" and the ones running imports.
package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	kexec "github.com/opst/importexec/pkg/configs/executor"
	"github.com/opst/importexec/pkg/dataset"
	"github.com/opst/importexec/pkg/dataset/configsync"
	"github.com/opst/importexec/pkg/kubeutil"
	"github.com/youta-t/flarc"
	"k8s.io/client-go/kubernetes"
)

// environment variable giving the default of --config
const EnvConfig = "EXECUTOR_CONFIG"

// Flag is common flags of "sync" subcommands.
type Flag struct {
	Config     string `flag:"config" alias:"c" metavar:"path/to/executor.yaml" help:"Executor config declaring datasets and their remote copies. (env: EXECUTOR_CONFIG)"`
	Kubeconfig string `flag:"kubeconfig" metavar:"path/to/kubeconfig" help:"kubeconfig to access ConfigMap remotes. Overrides the one in the executor config."`
}

func DefaultFlag() Flag {
	return Flag{Config: os.Getenv(EnvConfig)}
}

// Connect creates a kubernetes client from a kubeconfig path.
type Connect func(kubeconfig string) (kubernetes.Interface, error)

func DefaultConnect(kubeconfig string) (kubernetes.Interface, error) {
	return kubeutil.ConnectToK8s(kubeutil.Kubeconfig(kubeconfig))
}

// FlagOf picks Flag out of positional params passed from the command group.
func FlagOf(params []any) (Flag, error) {
	for _, p := range params {
		if f, ok := p.(Flag); ok {
			return f, nil
		}
	}
	return Flag{}, errors.New("programming error: flags of sync are not found")
}

// Load the executor config, and returns sources of datasets in it.
//
// When only is not empty, sources are narrowed to the named ones.
func Load(flags Flag, connect Connect, only []string) ([]string, map[string]configsync.Source, error) {
	if flags.Config == "" {
		return nil, nil, fmt.Errorf("%w: --config or %s is required", flarc.ErrUsage, EnvConfig)
	}
	conf, err := kexec.Load(flags.Config, os.LookupEnv)
	if err != nil {
		return nil, nil, err
	}
	kubeconfig := conf.Sync().Kubeconfig()
	if flags.Kubeconfig != "" {
		kubeconfig = flags.Kubeconfig
	}
	sources, err := configsync.FromConfig(conf, func() (kubernetes.Interface, error) {
		return connect(kubeconfig)
	})
	if err != nil {
		return nil, nil, err
	}

	names := []string{}
	if len(only) == 0 {
		for n := range sources {
			names = append(names, n)
		}
		sort.Strings(names)
		return names, sources, nil
	}
	for _, n := range only {
		if _, ok := sources[n]; !ok {
			return nil, nil, fmt.Errorf("%w: unknown dataset %s", flarc.ErrUsage, n)
		}
		names = append(names, n)
	}
	return names, sources, nil
}

// Resolve loads the dataset config which ref points, checking it against its
// remote copy.
//
// ref is a name of a dataset declared in the executor config, or a path of
// a dataset config file. A file declared in the executor config is checked
// like the named dataset. Other files, or any file when there are no
// executor configs, are read as they are.
//
// # Returns
//
// - error: wraps configsync.ErrDrift or configsync.ErrRemoteMissing when
// the copies are not in sync.
func Resolve(ctx context.Context, logger *log.Logger, flags Flag, connect Connect, ref string) (dataset.Config, error) {
	if connect == nil {
		connect = DefaultConnect
	}
	if flags.Config == "" {
		conf, _, err := dataset.Load(ref)
		if err != nil {
			return dataset.Config{}, err
		}
		logger.Printf("%s is not checked against a remote copy: no executor config is given.", ref)
		return conf, nil
	}

	names, sources, err := Load(flags, connect, nil)
	if err != nil {
		return dataset.Config{}, err
	}
	name, ok := ref, false
	if _, ok = sources[ref]; !ok {
		abs, err := filepath.Abs(ref)
		if err != nil {
			return dataset.Config{}, err
		}
		for _, n := range names {
			if p, err := filepath.Abs(sources[n].LocalPath); err == nil && p == abs {
				name, ok = n, true
				break
			}
		}
	}
	if !ok {
		conf, _, err := dataset.Load(ref)
		if err != nil {
			return dataset.Config{}, err
		}
		logger.Printf("%s is not declared in %s. it is not checked against a remote copy.", ref, flags.Config)
		return conf, nil
	}

	src := sources[name]
	conf, rep, err := src.Load(ctx)
	if err != nil {
		return dataset.Config{}, fmt.Errorf("dataset %s: %w", name, err)
	}
	if src.Remote != nil {
		logger.Printf("dataset %s: in sync with %s (%s)", name, rep.Location, rep.Local)
	}
	return conf, nil
}
