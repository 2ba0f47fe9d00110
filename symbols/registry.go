// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package symbols

import (
	"fmt"
	"os/user"
	"sync"

	"github.com/go-perfcore/perfcore/perffile"
)

// buildIDDir mirrors perfsession.buildIDDir / set_buildid_dir in
// tools/perf/util/config.c: the default cache directory perf populates
// with build-id-indexed copies of stripped binaries.
var buildIDDir = func() string {
	u, err := user.Current()
	if err != nil {
		return ".debug"
	}
	return fmt.Sprintf("%s/.debug", u.HomeDir)
}()

// A Registry is the single owner of every loaded SymbolsFile, replacing
// the source's shared-pointer SymbolsFile graph (§9 Design Notes):
// Mapping and DfxFrame hold an Index into the registry instead of a
// pointer, so there is exactly one place symbol files are opened, cached
// and eventually released.
type Registry struct {
	mu      sync.Mutex
	byKey   map[registryKey]int
	files   []*SymbolsFile

	// SearchDirs is consulted, in order, before giving up on a path
	// that didn't resolve directly — e.g. a build-id cache directory
	// or an original-path fallback root (§4.7: "a configurable ordered
	// list of search directories").
	SearchDirs []string
}

type registryKey struct {
	path    string
	buildID string
}

// NewRegistry returns an empty Registry. The default SearchDirs entry is
// the perf build-id cache, mirroring perfsession.getSymbolicExtra's
// build-id-then-original-path fallback.
func NewRegistry() *Registry {
	return &Registry{
		byKey:      make(map[registryKey]int),
		SearchDirs: []string{buildIDDir},
	}
}

// Index identifies a SymbolsFile within a Registry.
type Index int

// Get returns the SymbolsFile for an already-resolved index.
func (r *Registry) Get(idx Index) *SymbolsFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.files[idx]
}

// Load resolves path (optionally paired with a known build ID) to a
// SymbolsFile, loading and caching it on first use. Resolution order
// (§4.7 tail, §9): an exact match on (path, buildID) already in the
// registry; the build-id cache path `<dir>/.build-id/xx/yyyy...`; then
// the original path verbatim.
func (r *Registry) Load(path string, buildID perffile.BuildID) (Index, error) {
	r.mu.Lock()
	key := registryKey{path, string(buildID)}
	if idx, ok := r.byKey[key]; ok {
		r.mu.Unlock()
		return Index(idx), nil
	}
	r.mu.Unlock()

	var (
		sf  *SymbolsFile
		err error
	)
	if len(buildID) > 0 {
		for _, dir := range r.SearchDirs {
			cand := fmt.Sprintf("%s/.build-id/%.2s/%s", dir, buildID.String(), buildID.String()[2:])
			sf, err = Load(cand)
			if err == nil {
				break
			}
		}
	}
	if sf == nil {
		sf, err = Load(path)
		if err != nil {
			return -1, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.byKey[key]; ok {
		// Raced with a concurrent Load of the same key.
		return Index(idx), nil
	}
	idx := len(r.files)
	r.files = append(r.files, sf)
	r.byKey[key] = idx
	return Index(idx), nil
}

// Put registers an already-constructed SymbolsFile (e.g. a kernel
// pseudo-file or an opaque ArkTS region built by LoadOpaque) under key
// and returns its stable index.
func (r *Registry) Put(key string, sf *SymbolsFile) Index {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := registryKey{path: key}
	if idx, ok := r.byKey[k]; ok {
		r.files[idx] = sf
		return Index(idx)
	}
	idx := len(r.files)
	r.files = append(r.files, sf)
	r.byKey[k] = idx
	return Index(idx)
}

// Len returns the number of distinct symbol files loaded so far.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}
