package ingest

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// idDedupe remembers recently stored feature ids with the zone they went to,
// so a source replayed from its oldest offset does not rewrite them.
type idDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, string]
}

func newIDDedupe(size int) *idDedupe {
	if size <= 0 {
		size = 65536
	}
	c, _ := lru.New[string, string](size)
	return &idDedupe{lru: c}
}

// returns true if id was not stored under zone before
func (d *idDedupe) shouldApply(id, zone string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(id); ok && last == zone {
		return false
	}
	return true
}

func (d *idDedupe) applied(id, zone string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lru.Add(id, zone)
}
