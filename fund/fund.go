// Copyright 2023-2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fund loads the fund registry and binds each fund to its storage
// backend.
package fund

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fundfolio/ff-api/portfolio"
	"github.com/fundfolio/ff-api/repository"
	"github.com/pelletier/go-toml/v2"
)

const (
	BackendLocal  = "local"
	BackendRemote = "remote"
	BackendDual   = "dual"
)

// Config describes one fund and its repository binding.
type Config struct {
	ID           string `toml:"id"`
	Name         string `toml:"name"`
	Description  string `toml:"description"`
	Backend      string `toml:"backend"`
	Directory    string `toml:"directory"`
	DatabaseURL  string `toml:"database_url"`
	BaseCurrency string `toml:"base_currency"`
}

type registryFile struct {
	Funds []*Config `toml:"funds"`
}

// Registry is the set of configured funds, keyed by ID.
type Registry struct {
	funds map[string]*Config
	order []string
}

// LoadRegistry parses a funds.toml file.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read fund registry: %w", err)
	}

	parsed := registryFile{}
	if err := toml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: fund registry is not valid TOML: %v", portfolio.ErrValidation, err)
	}

	registry := &Registry{funds: make(map[string]*Config, len(parsed.Funds))}
	for _, cfg := range parsed.Funds {
		if cfg.ID == "" {
			return nil, fmt.Errorf("%w: fund entry missing id", portfolio.ErrValidation)
		}
		if _, exists := registry.funds[cfg.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate fund id %s", portfolio.ErrValidation, cfg.ID)
		}
		if cfg.BaseCurrency == "" {
			cfg.BaseCurrency = "USD"
		}
		if cfg.Backend == "" {
			cfg.Backend = BackendLocal
		}
		if cfg.Directory == "" {
			cfg.Directory = filepath.Join("funds", cfg.ID)
		}
		registry.funds[cfg.ID] = cfg
		registry.order = append(registry.order, cfg.ID)
	}
	return registry, nil
}

// Get returns the config for a fund ID.
func (r *Registry) Get(id string) (*Config, error) {
	cfg, ok := r.funds[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown fund %s", portfolio.ErrNotFound, id)
	}
	return cfg, nil
}

// List returns all configured funds in file order.
func (r *Registry) List() []*Config {
	out := make([]*Config, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.funds[id])
	}
	return out
}

// NewRepository constructs the storage backend the fund is bound to. Dual
// reads from the remote (authoritative) and writes through to the local
// journal.
func (c *Config) NewRepository(ctx context.Context) (portfolio.Repository, error) {
	switch c.Backend {
	case BackendLocal:
		return repository.NewLocalFile(c.ID, c.Directory)
	case BackendRemote:
		remote, err := c.newRemote(ctx)
		if err != nil {
			return nil, err
		}
		return remote, nil
	case BackendDual:
		remote, err := c.newRemote(ctx)
		if err != nil {
			return nil, err
		}
		local, err := repository.NewLocalFile(c.ID, c.Directory)
		if err != nil {
			return nil, err
		}
		return repository.NewDualWrite(remote, local)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q for fund %s", portfolio.ErrValidation, c.Backend, c.ID)
	}
}

func (c *Config) newRemote(ctx context.Context) (*repository.Remote, error) {
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("%w: fund %s uses a remote backend but has no database_url", portfolio.ErrValidation, c.ID)
	}
	remote, err := repository.NewRemote(ctx, c.ID, c.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := remote.Migrate(ctx); err != nil {
		return nil, err
	}
	return remote, nil
}
