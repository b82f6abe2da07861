package configsync

import (
	"fmt"
	"net/http"

	kexec "github.com/opst/importexec/pkg/configs/executor"
	"k8s.io/client-go/kubernetes"
)

// FromConfig builds Sources of all datasets in the executor config.
//
// connect is called at most once, when a dataset has a ConfigMap remote.
func FromConfig(conf *kexec.Config, connect func() (kubernetes.Interface, error)) (map[string]Source, error) {
	var client kubernetes.Interface
	sources := map[string]Source{}
	for _, name := range conf.DatasetNames() {
		ds, _ := conf.Dataset(name)
		src := Source{LocalPath: ds.Config()}

		if remote := ds.Remote(); remote != nil {
			if cm := remote.ConfigMap(); cm != nil {
				if client == nil {
					c, err := connect()
					if err != nil {
						return nil, fmt.Errorf("dataset %s: can not connect to kubernetes: %w", name, err)
					}
					client = c
				}
				src.Remote = ConfigMap(client, cm.Namespace, cm.Name, cm.Key)
			} else {
				header := http.Header{}
				for k, v := range remote.Headers() {
					header.Set(k, v)
				}
				src.Remote = Object(remote.URL(), WithHeader(header))
			}
		}
		sources[name] = src
	}
	return sources, nil
}
