// Package cliplist holds an ordered queue of clips to decode.
package cliplist

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/sleepmon/clipd/internal/storage"
)

// Entry represents a single queued clip
type Entry struct {
	Key   string
	Name  string
	Index int

	// Ref is set when the entry came from an upstream listing.
	Ref *storage.ClipRef
}

// List manages a list of clips to decode
type List struct {
	mu      sync.RWMutex
	entries []Entry
	current int
}

// New creates a new empty list
func New() *List {
	return &List{
		entries: make([]Entry, 0),
		current: -1,
	}
}

// NameForKey returns the file name part of key without its extension.
func NameForKey(key string) string {
	base := path.Base(strings.TrimRight(key, "/"))
	if base == "." || base == "/" {
		return "clip"
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

func (l *List) addLocked(key string, ref *storage.ClipRef) {
	l.entries = append(l.entries, Entry{
		Key:   key,
		Name:  NameForKey(key),
		Index: len(l.entries),
		Ref:   ref,
	})
}

// AddMultiple adds multiple keys to the list
func (l *List) AddMultiple(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range keys {
		l.addLocked(key, nil)
	}
}

// AddRefs adds the clips of an upstream listing, oldest first.
func (l *List) AddRefs(refs []storage.ClipRef) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(refs) - 1; i >= 0; i-- {
		ref := refs[i]
		l.addLocked(ref.Key, &ref)
	}
}

// Next moves to the next entry and returns it
func (l *List) Next() (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return nil, fmt.Errorf("clip list is empty")
	}

	if l.current >= len(l.entries) {
		return nil, fmt.Errorf("end of clip list")
	}
	l.current++
	if l.current >= len(l.entries) {
		return nil, fmt.Errorf("end of clip list")
	}

	e := l.entries[l.current]
	return &e, nil
}

// Length returns the number of entries
func (l *List) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// HasNext returns true if there are more entries after current
func (l *List) HasNext() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current+1 < len(l.entries)
}
