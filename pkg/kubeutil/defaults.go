package kubeutil

import (
	"os"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Kubeconfig decides the kubeconfig file to be used.
//
// It searches kubeconfig from (latter is prior)
//
// - `~/.kube/config`
//
// - environmental variable `KUBECONFIG`
//
// - explicit parameter
//
// When the decided file does not exist, it returns "" to mean in-cluster config.
func Kubeconfig(explicit string) string {
	kubeconfig := ""

	if home := homedir.HomeDir(); home != "" {
		kubeconfig = filepath.Join(home, ".kube", "config")
	}
	if k := os.Getenv("KUBECONFIG"); k != "" {
		kubeconfig = k
	}
	if explicit != "" {
		kubeconfig = explicit
	}

	if kubeconfig != "" {
		stat, err := os.Stat(kubeconfig)
		if err != nil || stat.IsDir() {
			return ""
		}
	}
	return kubeconfig
}

// ConnectToK8s creates a client with kubeconfig.
//
// When kubeconfig is empty, it falls back to in-cluster config.
func ConnectToK8s(kubeconfig string) (kubernetes.Interface, error) {
	var config *rest.Config
	var err error
	if kubeconfig == "" {
		config, err = rest.InClusterConfig()
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(config)
}
