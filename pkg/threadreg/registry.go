// Package threadreg assigns dense integer identities to worker goroutines.
//
// Promises and observers hold per-participant state in flat arrays; the
// registry provides the index. Registration happens once per goroutine before
// it touches any per-participant state, lookups after that are lock-free.
package threadreg

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/timandy/routine"

	"github.com/syncbench/syncbench/pkg/util/debug"
)

// ID is a dense, 0-based participant identifier.
type ID int

// Registry maps goroutine identities to dense IDs. Create one per run, sized
// implicitly by how many goroutines register.
type Registry struct {
	mtx      sync.Mutex
	next     int
	snapshot atomic.Pointer[map[int64]ID]
}

func New() *Registry {
	r := &Registry{}
	m := make(map[int64]ID)
	r.snapshot.Store(&m)
	return r
}

// Register assigns the next dense ID to the calling goroutine. Registering
// twice from the same goroutine returns the existing ID; debug builds treat
// it as a programmer error.
func (r *Registry) Register() ID {
	goid := routine.Goid()

	r.mtx.Lock()
	defer r.mtx.Unlock()

	old := *r.snapshot.Load()
	if id, ok := old[goid]; ok {
		if debug.Enabled {
			panic(fmt.Sprintf("threadreg: goroutine %d registered twice", goid))
		}
		return id
	}

	id := ID(r.next)
	r.next++

	// Copy-on-write so Current never takes the lock.
	m := make(map[int64]ID, len(old)+1)
	for k, v := range old {
		m[k] = v
	}
	m[goid] = id
	r.snapshot.Store(&m)

	return id
}

// Current returns the calling goroutine's ID. Lock-free.
func (r *Registry) Current() (ID, bool) {
	id, ok := (*r.snapshot.Load())[routine.Goid()]
	return id, ok
}

// MustCurrent is Current for goroutines that are known to be registered.
// Calling it unregistered is a programmer error.
func (r *Registry) MustCurrent() ID {
	id, ok := r.Current()
	if !ok {
		panic("threadreg: goroutine is not registered")
	}
	return id
}

// Count returns how many goroutines have registered so far.
func (r *Registry) Count() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.next
}
