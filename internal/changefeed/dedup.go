package changefeed

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultDedupWindow = 4096

// Deduper remembers the ids of recently dispatched changes so a change that reaches
// this process over more than one path is handled once.
type Deduper struct {
	seen *lru.Cache[string, struct{}]
}

func NewDeduper(size int) (*Deduper, error) {
	if size <= 0 {
		size = DefaultDedupWindow
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("dedup cache: %w", err)
	}
	return &Deduper{seen: cache}, nil
}

// Seen records id and reports whether it had been recorded before.
func (d *Deduper) Seen(id string) bool {
	if id == "" {
		return false
	}
	found, _ := d.seen.ContainsOrAdd(id, struct{}{})
	return found
}

func (d *Deduper) Wrap(h Handler) Handler {
	return func(change Change) {
		if d.Seen(change.ID) {
			return
		}
		h(change)
	}
}
