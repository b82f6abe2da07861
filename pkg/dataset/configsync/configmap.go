package configsync

import (
	"context"
	"fmt"

	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// AnnotationDigest is the annotation key of ConfigMap which holds the digest of the copy.
const AnnotationDigest = "importexec.opst.github.io/digest"

type configMapRemote struct {
	client    kubernetes.Interface
	namespace string
	name      string
	key       string
}

// ConfigMap returns a Remote storing the copy as an item of a ConfigMap.
func ConfigMap(client kubernetes.Interface, namespace, name, key string) Remote {
	return &configMapRemote{client: client, namespace: namespace, name: name, key: key}
}

func (c *configMapRemote) Location() string {
	return fmt.Sprintf("configmap/%s/%s#%s", c.namespace, c.name, c.key)
}

func (c *configMapRemote) Fetch(ctx context.Context) ([]byte, error) {
	cm, err := c.client.CoreV1().ConfigMaps(c.namespace).Get(ctx, c.name, kubeapimeta.GetOptions{})
	if kubeerr.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrRemoteMissing, c.Location())
	} else if err != nil {
		return nil, err
	}

	if v, ok := cm.Data[c.key]; ok {
		return []byte(v), nil
	}
	if v, ok := cm.BinaryData[c.key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrRemoteMissing, c.Location())
}

func (c *configMapRemote) Publish(ctx context.Context, content []byte, stamp Stamp) error {
	cms := c.client.CoreV1().ConfigMaps(c.namespace)

	cm, err := cms.Get(ctx, c.name, kubeapimeta.GetOptions{})
	if kubeerr.IsNotFound(err) {
		_, err := cms.Create(ctx, &kubecore.ConfigMap{
			ObjectMeta: kubeapimeta.ObjectMeta{
				Name:        c.name,
				Namespace:   c.namespace,
				Annotations: map[string]string{AnnotationDigest: stamp.Digest},
			},
			Data: map[string]string{c.key: string(content)},
		}, kubeapimeta.CreateOptions{})
		return err
	} else if err != nil {
		return err
	}

	if cm.Data == nil {
		cm.Data = map[string]string{}
	}
	if cm.Annotations == nil {
		cm.Annotations = map[string]string{}
	}
	delete(cm.BinaryData, c.key)
	cm.Data[c.key] = string(content)
	cm.Annotations[AnnotationDigest] = stamp.Digest

	_, err = cms.Update(ctx, cm, kubeapimeta.UpdateOptions{})
	return err
}
