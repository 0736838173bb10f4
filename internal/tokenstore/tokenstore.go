// Copyright 2024 Google Inc.
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

// Package tokenstore persists the OAuth refresh token to disk, per
// spec.md §6: a JSON object { "0": "<refresh_token>" }, written
// atomically so a crash mid-write never corrupts the existing file.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// record is the single-field wrapper spec.md §6 fixes on disk.
type record struct {
	Token string `json:"0"`
}

// Load reads the refresh token from path. A missing file is reported via
// os.IsNotExist on the returned error, distinguishing "not yet enrolled"
// from a genuine read/parse failure.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("tokenstore: parse %s: %w", path, err)
	}
	if rec.Token == "" {
		return "", errors.New("tokenstore: empty refresh token")
	}
	return rec.Token, nil
}

// Save writes token to path atomically: it writes to a temporary file in
// the same directory, flushes it, then renames it over path.
func Save(path, token string) error {
	data, err := json.Marshal(record{Token: token})
	if err != nil {
		return fmt.Errorf("tokenstore: encode: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tokenstore-*")
	if err != nil {
		return fmt.Errorf("tokenstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("tokenstore: rename into place: %w", err)
	}
	return nil
}
