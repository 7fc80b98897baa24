// Copyright 2025 UMH Systems GmbH
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

package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// MockFileSystem is an in-memory implementation of the Service interface.
// Individual operations can be overridden through the *Func fields.
type MockFileSystem struct {
	ReadFileFunc        func(ctx context.Context, path string) ([]byte, error)
	WriteFileFunc       func(ctx context.Context, path string, data []byte, perm os.FileMode) error
	PathExistsFunc      func(ctx context.Context, path string) (bool, error)
	EnsureDirectoryFunc func(ctx context.Context, path string) error
	StatFunc            func(ctx context.Context, path string) (os.FileInfo, error)
	ReadDirFunc         func(ctx context.Context, path string) ([]os.DirEntry, error)
	RenameFunc          func(ctx context.Context, oldPath, newPath string) error
	RemoveFunc          func(ctx context.Context, path string) error

	files   map[string][]byte
	modTime map[string]time.Time
	mutex   sync.Mutex
}

// NewMockFileSystem creates a new MockFileSystem instance.
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		files:   make(map[string][]byte),
		modTime: make(map[string]time.Time),
	}
}

// WithReadFileFunc overrides ReadFile.
func (m *MockFileSystem) WithReadFileFunc(fn func(ctx context.Context, path string) ([]byte, error)) *MockFileSystem {
	m.ReadFileFunc = fn
	return m
}

// WithWriteFileFunc overrides WriteFile.
func (m *MockFileSystem) WithWriteFileFunc(fn func(ctx context.Context, path string, data []byte, perm os.FileMode) error) *MockFileSystem {
	m.WriteFileFunc = fn
	return m
}

// WithPathExistsFunc overrides PathExists.
func (m *MockFileSystem) WithPathExistsFunc(fn func(ctx context.Context, path string) (bool, error)) *MockFileSystem {
	m.PathExistsFunc = fn
	return m
}

// EnsureDirectory creates a directory if it doesn't exist.
func (m *MockFileSystem) EnsureDirectory(ctx context.Context, path string) error {
	if m.EnsureDirectoryFunc != nil {
		return m.EnsureDirectoryFunc(ctx, path)
	}
	return checkContext(ctx)
}

// ReadFile reads a file's contents respecting the context.
func (m *MockFileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if m.ReadFileFunc != nil {
		return m.ReadFileFunc(ctx, path)
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteFile writes data to the in-memory store.
func (m *MockFileSystem) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	if m.WriteFileFunc != nil {
		return m.WriteFileFunc(ctx, path, data, perm)
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[path] = stored
	m.modTime[path] = time.Now()
	return nil
}

// PathExists checks if a file exists at the given path.
func (m *MockFileSystem) PathExists(ctx context.Context, path string) (bool, error) {
	if m.PathExistsFunc != nil {
		return m.PathExistsFunc(ctx, path)
	}
	if err := checkContext(ctx); err != nil {
		return false, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.files[path]
	return ok, nil
}

// Stat returns file info for an in-memory file.
func (m *MockFileSystem) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	if m.StatFunc != nil {
		return m.StatFunc(ctx, path)
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return mockFileInfo{name: filepath.Base(path), size: int64(len(data)), modTime: m.modTime[path]}, nil
}

// ReadDir lists in-memory files that live directly under path.
func (m *MockFileSystem) ReadDir(ctx context.Context, path string) ([]os.DirEntry, error) {
	if m.ReadDirFunc != nil {
		return m.ReadDirFunc(ctx, path)
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	var entries []os.DirEntry
	for name := range m.files {
		if filepath.Dir(name) == path {
			entries = append(entries, mockDirEntry{name: filepath.Base(name)})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

// Rename moves an in-memory file.
func (m *MockFileSystem) Rename(ctx context.Context, oldPath, newPath string) error {
	if m.RenameFunc != nil {
		return m.RenameFunc(ctx, oldPath, newPath)
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	data, ok := m.files[oldPath]
	if !ok {
		return os.ErrNotExist
	}
	m.files[newPath] = data
	m.modTime[newPath] = time.Now()
	delete(m.files, oldPath)
	delete(m.modTime, oldPath)
	return nil
}

// Remove deletes an in-memory file.
func (m *MockFileSystem) Remove(ctx context.Context, path string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, path)
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.files[path]; !ok {
		return os.ErrNotExist
	}
	delete(m.files, path)
	delete(m.modTime, path)
	return nil
}

type mockFileInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (fi mockFileInfo) Name() string       { return fi.name }
func (fi mockFileInfo) Size() int64        { return fi.size }
func (fi mockFileInfo) Mode() os.FileMode  { return 0o644 }
func (fi mockFileInfo) ModTime() time.Time { return fi.modTime }
func (fi mockFileInfo) IsDir() bool        { return false }
func (fi mockFileInfo) Sys() any           { return nil }

type mockDirEntry struct {
	name string
}

func (de mockDirEntry) Name() string               { return de.name }
func (de mockDirEntry) IsDir() bool                { return false }
func (de mockDirEntry) Type() os.FileMode          { return 0 }
func (de mockDirEntry) Info() (os.FileInfo, error) { return mockFileInfo{name: de.name}, nil }
