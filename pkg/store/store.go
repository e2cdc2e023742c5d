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

// Package store is the durable local state of the CLI: a flat key to JSON
// blob store with two namespaces, one for general resource metadata and one
// for secrets. Workflow progress is never held in memory across commands; it
// is derived by re-reading this store.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("key not found")

// Namespace names. Secrets carry credential material (private keys, client
// secrets); general carries everything else.
const (
	NamespaceGeneral = "general"
	NamespaceSecrets = "secrets"
)

// Store is a SQLite-backed key-value store. Individual key writes are
// serialized; last write wins. There are no cross-key transactions.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}

	for _, ns := range []string{NamespaceGeneral, NamespaceSecrets} {
		_, err := db.Exec(fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value BLOB NOT NULL)`, ns))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create %s table: %w", ns, err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put marshals value as JSON and writes it under key in the namespace,
// replacing any existing value.
func (s *Store) Put(namespace, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s/%s: %w", namespace, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(fmt.Sprintf(
		`INSERT INTO %s (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, namespace),
		key, data)
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Get unmarshals the value under key into out. Returns ErrNotFound when the
// key is absent.
func (s *Store) Get(namespace, key string, out any) error {
	var data []byte
	err := s.db.QueryRow(fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, namespace), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s/%s: %w", namespace, key, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes key from the namespace. Deleting an absent key is not an
// error.
func (s *Store) Delete(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, namespace), key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Keys lists the keys in the namespace with the given prefix, in key order.
func (s *Store) Keys(namespace, prefix string) ([]string, error) {
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT key FROM %s WHERE key LIKE ? ORDER BY key`, namespace), prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys in %s: %w", namespace, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
