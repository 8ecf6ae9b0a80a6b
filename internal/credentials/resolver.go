// Package credentials resolves the product-data key used for a request.
package credentials

import (
	"context"
	"strings"

	"github.com/agenthands/correlator/internal/config"
	"github.com/agenthands/correlator/internal/core/model"
)

const ServiceProductData = "product_data"

// Resolver returns an owner's stored credential for a service, or "" when none.
type Resolver interface {
	Credential(ctx context.Context, owner, service string) (string, error)
}

// ConfigResolver serves the static owner keys from config and falls back to
// the system key.
type ConfigResolver struct {
	owners    map[string]string
	systemKey string
}

var _ Resolver = (*ConfigResolver)(nil)

func NewConfigResolver(cfg config.Config) *ConfigResolver {
	owners := make(map[string]string, len(cfg.Credentials.Owners))
	for owner, key := range cfg.Credentials.Owners {
		owners[owner] = key
	}
	return &ConfigResolver{owners: owners, systemKey: cfg.Gateway.SystemKey}
}

func (r *ConfigResolver) Credential(ctx context.Context, owner, service string) (string, error) {
	if service != ServiceProductData {
		return "", nil
	}
	if key := strings.TrimSpace(r.owners[owner]); key != "" {
		return key, nil
	}
	return strings.TrimSpace(r.systemKey), nil
}

// Resolve picks the explicit override first, then the resolver's answer.
// It fails with MissingCredential when neither yields a key.
func Resolve(ctx context.Context, r Resolver, owner, override string) (string, error) {
	if key := strings.TrimSpace(override); key != "" {
		return key, nil
	}
	if r != nil {
		key, err := r.Credential(ctx, owner, ServiceProductData)
		if err != nil {
			return "", model.NewError(model.KindInternal, "credential lookup failed", err)
		}
		if key = strings.TrimSpace(key); key != "" {
			return key, nil
		}
	}
	return "", model.NewError(model.KindMissingCredential, "no product data credential configured", nil)
}
