// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/westodyssey/westodyssey/pkg/config"
)

// OpenStore builds the store selected by cfg.Backend.
func OpenStore(cfg config.MemoryConfig) (Store, error) {
	switch cfg.Backend {
	case "", "inmemory":
		return NewInMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Path)
	case "sqlite":
		path := cfg.Path
		if filepath.Ext(path) == "" {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return nil, err
			}
			path = filepath.Join(path, "memory.db")
		} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		return OpenSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}
