package consul

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/consul/api"
	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/backend/compress"
)

// ConsulBackend stores records in the Consul KV store.
//
// Architecture:
//   - <prefix>m<key> holds the CBOR metadata record, its Flags carry the modify time
//   - <prefix>c<key> holds framed content, its Flags carry the uncompressed size
//   - Commits and renames are applied through KV transactions
//
// Limitations:
//   - Consul KV has a 512KB limit per value
//   - A transaction holds at most 64 operations, larger renames are split
type ConsulBackend struct {
	backend.Listeners

	client *api.Client
	kv     *api.KV

	config *ConsulBackendConfig
}

// ConsulBackendConfig contains configuration options for the Consul backend
type ConsulBackendConfig struct {
	// Address of the Consul server (default: "127.0.0.1:8500")
	Address string

	// Token for Consul ACL authentication (optional)
	Token string

	// Datacenter to use (optional)
	Datacenter string

	// Namespace for Consul Enterprise (optional)
	Namespace string

	// Prefix for all keys in Consul KV (default: "cachefs/")
	Prefix string

	// Compression applied to newly written content
	Compression compress.Algorithm
}

// NewConsulBackend creates a new Consul-backed storage
func NewConsulBackend(config *ConsulBackendConfig) (*ConsulBackend, error) {
	if config == nil {
		config = &ConsulBackendConfig{}
	}

	// Set defaults
	if config.Address == "" {
		config.Address = "127.0.0.1:8500"
	}
	if config.Prefix == "" {
		config.Prefix = "cachefs/"
	}
	if !strings.HasSuffix(config.Prefix, "/") {
		config.Prefix += "/"
	}

	clientConfig := api.DefaultConfig()
	clientConfig.Address = config.Address
	if config.Token != "" {
		clientConfig.Token = config.Token
	}
	if config.Datacenter != "" {
		clientConfig.Datacenter = config.Datacenter
	}
	if config.Namespace != "" {
		clientConfig.Namespace = config.Namespace
	}

	client, err := api.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}

	return &ConsulBackend{
		client: client,
		kv:     client.KV(),
		config: config,
	}, nil
}

// Name returns the identifier name defined for this backend
func (*ConsulBackend) Name() string {
	return "consul"
}

// Open is part of the lifecycle behaviour and gets called when mounting this backend
func (cb *ConsulBackend) Open(ctx context.Context) error {
	leader, err := cb.client.Status().LeaderWithQueryOptions((&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to reach consul: %w", err)
	}
	if leader == "" {
		return fmt.Errorf("consul cluster has no leader")
	}

	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this backend
func (cb *ConsulBackend) Close(ctx context.Context) error {
	// Nothing to clean up - Consul client is stateless
	return nil
}

// GetCapabilities returns a list of capabilities supported by this backend
func (cb *ConsulBackend) GetCapabilities() *backend.BackendCapabilities {
	return &backend.BackendCapabilities{
		Capabilities: []backend.BackendCapability{
			backend.CapabilityObjectStorage,
			backend.CapabilityMetadata,
			backend.CapabilityTransactions,
			backend.CapabilityPersistent,
			backend.CapabilityCompression,
			backend.CapabilityEvents,
		},
		// Consul KV has a default limit of 512KB per value
		// We set it slightly lower to account for framing overhead
		MaxObjectSize: 500 * 1024,
	}
}

func (cb *ConsulBackend) metaKey(key string) string {
	return cb.config.Prefix + "m" + key
}

func (cb *ConsulBackend) contentKey(key string) string {
	return cb.config.Prefix + "c" + key
}
