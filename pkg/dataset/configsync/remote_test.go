package configsync_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/opst/importexec/pkg/dataset/configsync"
	"github.com/opst/importexec/pkg/utils/try"
	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestConfigMapRemote(t *testing.T) {
	ctx := context.Background()

	t.Run("missing ConfigMap is reported as missing remote", func(t *testing.T) {
		client := fake.NewSimpleClientset()
		remote := configsync.ConfigMap(client, "importer", "dataset-configs", "cdc.json")

		if _, err := remote.Fetch(ctx); !errors.Is(err, configsync.ErrRemoteMissing) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("missing key is reported as missing remote", func(t *testing.T) {
		client := fake.NewSimpleClientset(&kubecore.ConfigMap{
			ObjectMeta: kubeapimeta.ObjectMeta{Name: "dataset-configs", Namespace: "importer"},
			Data:       map[string]string{"other.json": "{}"},
		})
		remote := configsync.ConfigMap(client, "importer", "dataset-configs", "cdc.json")

		if _, err := remote.Fetch(ctx); !errors.Is(err, configsync.ErrRemoteMissing) {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Publish creates the ConfigMap, then updates it", func(t *testing.T) {
		client := fake.NewSimpleClientset()
		remote := configsync.ConfigMap(client, "importer", "dataset-configs", "cdc.json")

		try.To(configsync.Publish(ctx, []byte(validConfig), remote)).OrFatal(t)
		if got := try.To(remote.Fetch(ctx)).OrFatal(t); string(got) != validConfig {
			t.Errorf("fetched: %s", got)
		}

		updated := `{"release_year": 2023, "parameter": [{"URL": "http://x/y", "FILE_TYPE": "County", "FILE_NAME": "county_raw_data_2023.csv"}]}`
		stamp := try.To(configsync.Publish(ctx, []byte(updated), remote)).OrFatal(t)
		if got := try.To(remote.Fetch(ctx)).OrFatal(t); string(got) != updated {
			t.Errorf("fetched: %s", got)
		}

		cm := try.To(
			client.CoreV1().ConfigMaps("importer").Get(ctx, "dataset-configs", kubeapimeta.GetOptions{}),
		).OrFatal(t)
		if cm.Annotations[configsync.AnnotationDigest] != stamp.Digest {
			t.Errorf("digest annotation: %v", cm.Annotations)
		}
	})
}

func TestObjectRemote(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var stored []byte
	var digest string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer token" || !strings.HasPrefix(r.UserAgent(), "importexec/") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.Method {
		case http.MethodGet:
			if stored == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(stored)
		case http.MethodPut:
			stored, _ = io.ReadAll(r.Body)
			digest = r.Header.Get(configsync.HeaderDigest)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer server.Close()

	remote := configsync.Object(
		server.URL+"/bucket/cdc.json",
		configsync.WithHeader(http.Header{"Authorization": {"Bearer token"}}),
		configsync.WithHTTPClient(server.Client()),
	)

	if _, err := remote.Fetch(ctx); !errors.Is(err, configsync.ErrRemoteMissing) {
		t.Errorf("unexpected error: %v", err)
	}

	stamp := try.To(configsync.Publish(ctx, []byte(validConfig), remote)).OrFatal(t)
	if digest != stamp.Digest {
		t.Errorf("digest header: got %s, want %s", digest, stamp.Digest)
	}
	if _, err := configsync.Check(ctx, []byte(validConfig), remote); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	unauthorized := configsync.Object(server.URL+"/bucket/cdc.json", configsync.WithHTTPClient(server.Client()))
	if _, err := unauthorized.Fetch(ctx); err == nil || errors.Is(err, configsync.ErrRemoteMissing) {
		t.Errorf("unexpected error: %v", err)
	}
}
