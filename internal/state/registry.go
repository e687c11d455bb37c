// Package state keeps the newest-timestamp watermark between runs and the
// document it is persisted in.
package state

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// State is the persisted form of a Registry.
type State struct {
	NewestTimestamp        int64    `json:"newest-timestamp"`
	FilesAtNewestTimestamp []string `json:"last-timestamp-files"`
}

// Registry decides whether a remote file is new or changed since the last
// run. It remembers the newest modification timestamp seen so far and every
// path already downloaded at exactly that timestamp, so files sharing the
// newest second are told apart without keeping a full history.
//
// A Registry is owned by a single run and is not safe for concurrent use.
type Registry struct {
	newestTimestamp int64
	filesAtNewest   mapset.Set[string]
}

// NewRegistry restores a registry from its persisted state.
func NewRegistry(s State) *Registry {
	return &Registry{
		newestTimestamp: s.NewestTimestamp,
		filesAtNewest:   mapset.NewThreadUnsafeSet(s.FilesAtNewestTimestamp...),
	}
}

// ShouldBeFileUpdated reports whether path at timestamp still has to be
// downloaded and records it if so. A strictly newer timestamp advances the
// watermark and forgets the paths recorded at the previous one.
func (r *Registry) ShouldBeFileUpdated(path string, timestamp int64) bool {
	if timestamp > r.newestTimestamp {
		r.newestTimestamp = timestamp
		r.filesAtNewest.Clear()
	}
	if timestamp < r.newestTimestamp {
		return false
	}
	return r.filesAtNewest.Add(path)
}

// Accepts answers ShouldBeFileUpdated without recording anything.
func (r *Registry) Accepts(path string, timestamp int64) bool {
	switch {
	case timestamp > r.newestTimestamp:
		return true
	case timestamp < r.newestTimestamp:
		return false
	default:
		return !r.filesAtNewest.Contains(path)
	}
}

func (r *Registry) NewestTimestamp() int64 {
	return r.newestTimestamp
}

// State returns the persisted form, with paths sorted for stable output.
func (r *Registry) State() State {
	files := r.filesAtNewest.ToSlice()
	slices.Sort(files)
	return State{
		NewestTimestamp:        r.newestTimestamp,
		FilesAtNewestTimestamp: files,
	}
}
