// Copyright 2025 Microsoft Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"fmt"
	"strings"
)

// CRUD is a typed view over one key prefix of one namespace. Callers
// instantiate it per entity kind, e.g. NewCRUD[graph.Application](s,
// NamespaceGeneral, "app"). Keys are "<prefix>/<id>".
type CRUD[T any] struct {
	store     *Store
	namespace string
	prefix    string
}

// NewCRUD returns a typed view over namespace keyed under prefix.
func NewCRUD[T any](s *Store, namespace, prefix string) *CRUD[T] {
	return &CRUD[T]{store: s, namespace: namespace, prefix: prefix}
}

func (c *CRUD[T]) key(id string) string {
	return c.prefix + "/" + id
}

// Get returns the entity with the given id, or (nil, nil) when absent.
func (c *CRUD[T]) Get(id string) (*T, error) {
	var out T
	err := c.store.Get(c.namespace, c.key(id), &out)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Put writes the entity under its id, replacing any existing value.
func (c *CRUD[T]) Put(id string, value *T) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	return c.store.Put(c.namespace, c.key(id), value)
}

// Delete removes the entity with the given id.
func (c *CRUD[T]) Delete(id string) error {
	return c.store.Delete(c.namespace, c.key(id))
}

// List returns every entity under the prefix, in id order.
func (c *CRUD[T]) List() ([]*T, error) {
	keys, err := c.store.Keys(c.namespace, c.prefix+"/")
	if err != nil {
		return nil, err
	}

	out := make([]*T, 0, len(keys))
	for _, k := range keys {
		id := strings.TrimPrefix(k, c.prefix+"/")
		item, err := c.Get(id)
		if err != nil {
			return nil, err
		}
		if item != nil {
			out = append(out, item)
		}
	}
	return out, nil
}
