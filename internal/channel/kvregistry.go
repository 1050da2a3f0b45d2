package channel

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sakif/rewards-engine/internal/apperror"
	"github.com/sakif/rewards-engine/internal/model"
)

// kvRegistry adapts a plain key/value Adapter into a RegistryChannel by
// storing the whole registry as one JSON document under a fixed key.
type kvRegistry struct {
	adapter Adapter
	key     string
}

// KVRegistry wraps adapter as a RegistryChannel persisting under key.
func KVRegistry(adapter Adapter, key string) RegistryChannel {
	return &kvRegistry{adapter: adapter, key: key}
}

func (c *kvRegistry) Name() string { return c.adapter.Name() }

func (c *kvRegistry) ReadRegistry(ctx context.Context) (model.Registry, error) {
	raw, err := c.adapter.Get(ctx, c.key)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return model.Registry{}, nil
		}
		return nil, err
	}

	var reg model.Registry
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil, apperror.Parse(c.adapter.Name(), err)
	}
	if reg == nil {
		reg = model.Registry{}
	}
	return reg, nil
}

func (c *kvRegistry) WriteRegistry(ctx context.Context, reg model.Registry) error {
	raw, err := json.Marshal(reg)
	if err != nil {
		return apperror.Parse(c.adapter.Name(), err)
	}
	return c.adapter.Set(ctx, c.key, raw)
}
