package reconcile

import (
	"sort"
	"sync"
)

// platformLocks serializes writers per platform. Callers that need several
// platforms take them in ascending id order so concurrent runs cannot
// deadlock.
type platformLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newPlatformLocks() *platformLocks {
	return &platformLocks{locks: make(map[int64]*sync.Mutex)}
}

func (l *platformLocks) get(id int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// lock acquires every listed platform and returns the release function.
func (l *platformLocks) lock(ids ...int64) func() {
	ordered := append([]int64(nil), ids...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	var held []*sync.Mutex
	var prev int64
	for i, id := range ordered {
		if i > 0 && id == prev {
			continue
		}
		prev = id
		m := l.get(id)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
