package consul

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/hashicorp/consul/api"
	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/backendtest"
	"github.com/mwantia/cachefs/backend/compress"
)

// Set CACHEFS_TEST_CONSUL_ADDR to run against a live Consul agent.
func TestConformance(t *testing.T) {
	address := os.Getenv("CACHEFS_TEST_CONSUL_ADDR")
	if address == "" {
		t.Skip("CACHEFS_TEST_CONSUL_ADDR not set")
	}

	backendtest.RunConformanceSuite(t, func(t *testing.T) backend.Storage {
		cb, err := NewConsulBackend(&ConsulBackendConfig{
			Address:     address,
			Token:       os.Getenv("CACHEFS_TEST_CONSUL_TOKEN"),
			Prefix:      "cachefs-test/" + uuid.NewString(),
			Compression: compress.Zstd,
		})
		if err != nil {
			t.Fatalf("Backend init failed: %v", err)
		}
		if err := cb.Open(t.Context()); err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		t.Cleanup(func() {
			cb.kv.DeleteTree(cb.config.Prefix, (&api.WriteOptions{}).WithContext(context.Background()))
		})

		return cb
	})
}

func TestConfigDefaults(t *testing.T) {
	cb, err := NewConsulBackend(nil)
	if err != nil {
		t.Fatalf("Backend init failed: %v", err)
	}

	if cb.config.Address != "127.0.0.1:8500" {
		t.Errorf("unexpected address %q", cb.config.Address)
	}
	if cb.config.Prefix != "cachefs/" {
		t.Errorf("unexpected prefix %q", cb.config.Prefix)
	}
	if got := cb.metaKey("/dir/a.txt"); got != "cachefs/m/dir/a.txt" {
		t.Errorf("unexpected meta key %q", got)
	}
	if got := cb.contentKey("/"); got != "cachefs/c/" {
		t.Errorf("unexpected content key %q", got)
	}
}

func TestPrefixGetsTrailingSlash(t *testing.T) {
	cb, err := NewConsulBackend(&ConsulBackendConfig{Prefix: "stores/one"})
	if err != nil {
		t.Fatalf("Backend init failed: %v", err)
	}

	if cb.config.Prefix != "stores/one/" {
		t.Errorf("unexpected prefix %q", cb.config.Prefix)
	}
}
