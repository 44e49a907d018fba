/*
Copyright 2025 The goARRG Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package inflight

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"goarrg.com/debug"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/singleflight"
)

const DefaultCacheTimeout = 2000 * time.Millisecond

// depMtx guards the edges, residency and pins of every cache node, across caches.
// Lock order is ObjectCache.mtx then depMtx.
var depMtx sync.Mutex

type cacheNode struct {
	owner    any
	id       string
	lastUsed atomic.Int64

	resident     bool
	pins         int
	dependents   map[*cacheNode]struct{}
	dependencies map[*cacheNode]struct{}
}

func (n *cacheNode) touch(now time.Time) {
	n.lastUsed.Store(now.UnixNano())
}

func (n *cacheNode) expired(now time.Time, timeout time.Duration) bool {
	return now.UnixNano()-n.lastUsed.Load() > int64(timeout)
}

func (n *cacheNode) unlink() {
	for c := range n.dependencies {
		delete(c.dependents, n)
	}
	for p := range n.dependents {
		delete(p.dependencies, n)
	}
	clear(n.dependencies)
	clear(n.dependents)
	n.resident = false
}

type cacheEntry[K comparable, V any] struct {
	cacheNode
	key       K
	value     V
	destroyer Destroyer
}

/*
Dependencies collects the entries a build acquires through AcquireFor. They stay pinned
until the build returns and are then linked as dependencies of the new entry, so they
cannot be evicted while it is resident. It is only valid inside the build call it was passed to.
*/
type Dependencies struct {
	mtx      sync.Mutex
	done     bool
	children []*cacheNode
}

func (d *Dependencies) add(n *cacheNode) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.done {
		abort("Dependencies used after the build it was passed to returned")
	}
	d.children = append(d.children, n)
}

// remove drops the last record of n, undoing an add whose pin was never taken.
func (d *Dependencies) remove(n *cacheNode) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	for i := len(d.children) - 1; i >= 0; i-- {
		if d.children[i] == n {
			d.children = append(d.children[:i], d.children[i+1:]...)
			return
		}
	}
}

// Len returns the number of entries acquired so far.
func (d *Dependencies) Len() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return len(d.children)
}

// finish links every child to parent, a nil parent only drops the pins. depMtx must be held.
func (d *Dependencies) finish(parent *cacheNode) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	for _, c := range d.children {
		c.pins--
		if parent == nil || !c.resident {
			continue
		}
		c.dependents[parent] = struct{}{}
		parent.dependencies[c] = struct{}{}
	}
	d.children = nil
	d.done = true
}

type CacheStats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Builds    uint64 `json:"builds"`
	Failures  uint64 `json:"failures"`
	Evictions uint64 `json:"evictions"`
}

type cacheConfig struct {
	timeout      time.Duration
	clock        func() time.Time
	keyID        func(key any) string
	destroyQueue DestroyQueue
}

type CacheOption func(*cacheConfig)

func WithTimeout(d time.Duration) CacheOption {
	return func(c *cacheConfig) { c.timeout = d }
}

// WithClock replaces the time source used to stamp entries on build and on hit.
func WithClock(clock func() time.Time) CacheOption {
	return func(c *cacheConfig) { c.clock = clock }
}

/*
WithKeyID replaces the function naming keys in logs and dumps. Concurrent builds are
collapsed by id, keys sharing an id are still built separately but serialize behind each other.
*/
func WithKeyID(keyID func(key any) string) CacheOption {
	return func(c *cacheConfig) { c.keyID = keyID }
}

// WithDestroyQueue defers the destroyers of flushed entries, Clear always destroys immediately.
func WithDestroyQueue(q DestroyQueue) CacheOption {
	return func(c *cacheConfig) { c.destroyQueue = q }
}

// BuildFunc builds the value for key, the returned Destroyer may be nil.
type BuildFunc[K comparable, V any] func(key K, deps *Dependencies) (V, Destroyer, error)

/*
ObjectCache maps immutable keys to expensive objects, building them on first use and
destroying them once they have been idle longer than the timeout. An entry other entries
depend on is only evicted together with or after them. Acquire is safe for concurrent use,
Flush and Clear are meant to be called from the update goroutine.
*/
type ObjectCache[K comparable, V any] struct {
	name  string
	build BuildFunc[K, V]

	clock        func() time.Time
	keyID        func(key any) string
	destroyQueue DestroyQueue
	timeout      atomic.Int64

	mtx     sync.Mutex
	entries map[K]*cacheEntry[K, V]
	group   singleflight.Group

	hits      atomic.Uint64
	misses    atomic.Uint64
	builds    atomic.Uint64
	failures  atomic.Uint64
	evictions atomic.Uint64
}

func NewObjectCache[K comparable, V any](name string, build BuildFunc[K, V], opts ...CacheOption) (*ObjectCache[K, V], error) {
	if build == nil {
		return nil, debug.Errorf("Nil build function for cache %q", name)
	}
	cfg := cacheConfig{
		timeout:      DefaultCacheTimeout,
		clock:        time.Now,
		keyID:        func(key any) string { return genID(key) },
		destroyQueue: immediateDestroyQueue{},
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.timeout < 0 {
		return nil, debug.ErrorWrapf(ErrorOutOfRange{}, "Cache %q timeout must be >= 0, got %s", name, cfg.timeout)
	}
	if cfg.clock == nil || cfg.keyID == nil || cfg.destroyQueue == nil {
		return nil, debug.Errorf("Cache %q given a nil option", name)
	}

	c := &ObjectCache[K, V]{
		name:         name,
		build:        build,
		clock:        cfg.clock,
		keyID:        cfg.keyID,
		destroyQueue: cfg.destroyQueue,
		entries:      make(map[K]*cacheEntry[K, V]),
	}
	c.timeout.Store(int64(cfg.timeout))
	return c, nil
}

func (c *ObjectCache[K, V]) Name() string {
	return c.name
}

// Acquire returns the value for key, building it on a miss. A failed build leaves the cache untouched.
func (c *ObjectCache[K, V]) Acquire(key K) (V, error) {
	e, err := c.acquire(key, nil)
	if err != nil {
		var zero V
		return zero, err
	}
	return e.value, nil
}

/*
AcquireFor is Acquire from inside another cache's build, it records the entry in deps so the
entry being built depends on it.
*/
func (c *ObjectCache[K, V]) AcquireFor(deps *Dependencies, key K) (V, error) {
	if deps == nil {
		abort("Nil Dependencies passed to AcquireFor on cache %q", c.name)
	}
	e, err := c.acquire(key, deps)
	if err != nil {
		var zero V
		return zero, err
	}
	return e.value, nil
}

// lookup touches and, if deps is set, pins the resident entry for key.
func (c *ObjectCache[K, V]) lookup(key K, deps *Dependencies) (*cacheEntry[K, V], bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e, c.claim(e, deps)
}

// claim touches e and pins it for deps, it fails if e was evicted. c.mtx must be held.
func (c *ObjectCache[K, V]) claim(e *cacheEntry[K, V], deps *Dependencies) bool {
	if deps != nil {
		// add aborts on a leaked Dependencies, nothing may be pinned before it returns
		deps.add(&e.cacheNode)
	}
	depMtx.Lock()
	defer depMtx.Unlock()
	if !e.resident {
		if deps != nil {
			deps.remove(&e.cacheNode)
		}
		return false
	}
	e.touch(c.clock())
	if deps != nil {
		e.pins++
	}
	return true
}

func (c *ObjectCache[K, V]) claimLocked(e *cacheEntry[K, V], deps *Dependencies) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.claim(e, deps)
}

// maxBuildAttempts bounds how often acquire builds a key that it then cannot find, such as a key
// holding a NaN.
const maxBuildAttempts = 8

func (c *ObjectCache[K, V]) acquire(key K, deps *Dependencies) (*cacheEntry[K, V], error) {
	if e, ok := c.lookup(key, deps); ok {
		c.hits.Add(1)
		return e, nil
	}
	c.misses.Add(1)

	id := c.keyID(key)
	for range maxBuildAttempts {
		v, err, _ := c.group.Do(id, func() (any, error) {
			return c.buildEntry(key, id)
		})
		if err != nil {
			return nil, err
		}
		if e, _ := v.(*cacheEntry[K, V]); e != nil && e.key == key && c.claimLocked(e, deps) {
			return e, nil
		}
		// the flight built a different key sharing the id, or the entry was evicted since
		if e, ok := c.lookup(key, deps); ok {
			return e, nil
		}
	}
	return nil, debug.Errorf("Cache %q built %s %d times but could not find it again, is its key equal to itself?",
		c.name, id, maxBuildAttempts)
}

func (c *ObjectCache[K, V]) buildEntry(key K, id string) (e *cacheEntry[K, V], err error) {
	c.mtx.Lock()
	if existing, ok := c.entries[key]; ok {
		c.mtx.Unlock()
		return existing, nil
	}
	c.mtx.Unlock()

	deps := &Dependencies{}
	defer func() {
		if e == nil {
			depMtx.Lock()
			deps.finish(nil)
			depMtx.Unlock()
		}
	}()

	value, destroyer, err := c.build(key, deps)
	if err != nil {
		c.failures.Add(1)
		if destroyer != nil {
			safeDestroy(id, destroyer)
		}
		return nil, debug.ErrorWrapf(err, "Cache %q failed to build %s", c.name, id)
	}

	entry := &cacheEntry[K, V]{
		key:       key,
		value:     value,
		destroyer: destroyer,
	}
	entry.owner = c
	entry.id = id
	entry.dependents = make(map[*cacheNode]struct{})
	entry.dependencies = make(map[*cacheNode]struct{})
	entry.touch(c.clock())

	c.mtx.Lock()
	depMtx.Lock()
	entry.resident = true
	deps.finish(&entry.cacheNode)
	depMtx.Unlock()
	c.entries[key] = entry
	c.mtx.Unlock()

	c.builds.Add(1)
	instance.logger.VPrintf("Cache %q built %s with %d dependencies", c.name, id, len(entry.dependencies))
	return entry, nil
}

/*
removable computes the entries Flush may remove at now. An entry qualifies if it is expired and
unpinned, the survivors then disqualify everything they depend on, transitively. Dependents
living in another cache always survive here, that cache has to let go of them first.
depMtx must be held.
*/
func (c *ObjectCache[K, V]) removable(now time.Time) map[*cacheNode]*cacheEntry[K, V] {
	timeout := c.Timeout()
	set := make(map[*cacheNode]*cacheEntry[K, V])
	for _, e := range c.entries {
		if e.pins == 0 && e.expired(now, timeout) {
			set[&e.cacheNode] = e
		}
	}

	survivors := []*cacheNode{}
	for _, e := range c.entries {
		n := &e.cacheNode
		if _, ok := set[n]; !ok {
			survivors = append(survivors, n)
			continue
		}
		for d := range n.dependents {
			if d.owner != c {
				delete(set, n)
				survivors = append(survivors, n)
				break
			}
		}
	}

	for len(survivors) > 0 {
		n := survivors[len(survivors)-1]
		survivors = survivors[:len(survivors)-1]
		for child := range n.dependencies {
			if _, ok := set[child]; ok {
				delete(set, child)
				survivors = append(survivors, child)
			}
		}
	}
	return set
}

// destroyOrder sorts set so that every entry comes before the entries it depends on.
func destroyOrder[K comparable, V any](set map[*cacheNode]*cacheEntry[K, V]) []*cacheEntry[K, V] {
	pending := make(map[*cacheNode]int, len(set))
	ready := []*cacheNode{}
	for n := range set {
		count := 0
		for d := range n.dependents {
			if _, ok := set[d]; ok {
				count++
			}
		}
		pending[n] = count
		if count == 0 {
			ready = append(ready, n)
		}
	}
	slices.SortFunc(ready, func(a, b *cacheNode) int { return cmp.Compare(a.id, b.id) })

	order := make([]*cacheEntry[K, V], 0, len(set))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, set[n])
		delete(pending, n)
		for child := range n.dependencies {
			if _, ok := pending[child]; !ok {
				continue
			}
			pending[child]--
			if pending[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	// anything left is on a cycle, those go in id order
	rest := maps.Keys(pending)
	slices.SortFunc(rest, func(a, b *cacheNode) int { return cmp.Compare(a.id, b.id) })
	for _, n := range rest {
		order = append(order, set[n])
	}
	return order
}

func (c *ObjectCache[K, V]) detach(order []*cacheEntry[K, V]) []Destroyer {
	destroyers := make([]Destroyer, 0, len(order))
	for _, e := range order {
		e.unlink()
		delete(c.entries, e.key)
		if e.destroyer != nil {
			destroyers = append(destroyers, namedDestroyer{id: e.id, d: e.destroyer})
		}
	}
	return destroyers
}

type namedDestroyer struct {
	id string
	d  Destroyer
}

func (n namedDestroyer) Destroy() {
	instance.logger.VPrintf("Destroying %s", n.id)
	n.d.Destroy()
}

/*
Flush evicts every entry that has been idle for longer than the timeout at now and that
no surviving entry depends on. Dependents are destroyed before their dependencies.
It returns the number of evicted entries.
*/
func (c *ObjectCache[K, V]) Flush(now time.Time) int {
	c.mtx.Lock()
	depMtx.Lock()
	order := destroyOrder(c.removable(now))
	destroyers := c.detach(order)
	depMtx.Unlock()
	c.mtx.Unlock()

	if len(order) == 0 {
		return 0
	}
	c.evictions.Add(uint64(len(order)))
	instance.logger.VPrintf("Cache %q evicted %d entries, %d left", c.name, len(order), c.Len())
	c.destroyQueue.QueueDestroy(destroyers...)
	return len(order)
}

// Clear destroys every entry now, regardless of age, pins or dependents.
func (c *ObjectCache[K, V]) Clear() int {
	c.mtx.Lock()
	depMtx.Lock()
	set := make(map[*cacheNode]*cacheEntry[K, V], len(c.entries))
	for _, e := range c.entries {
		set[&e.cacheNode] = e
	}
	order := destroyOrder(set)
	destroyers := c.detach(order)
	depMtx.Unlock()
	c.mtx.Unlock()

	for _, d := range destroyers {
		safeDestroy(c.name, d)
	}
	if len(order) > 0 {
		instance.logger.VPrintf("Cache %q cleared %d entries", c.name, len(order))
	}
	return len(order)
}

func (c *ObjectCache[K, V]) SetTimeout(d time.Duration) {
	if d < 0 {
		abort("Cache %q timeout must be >= 0, got %s", c.name, d)
	}
	c.timeout.Store(int64(d))
}

func (c *ObjectCache[K, V]) Timeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

func (c *ObjectCache[K, V]) Len() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.entries)
}

// Contains reports whether key is resident without touching it.
func (c *ObjectCache[K, V]) Contains(key K) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	_, ok := c.entries[key]
	return ok
}

func (c *ObjectCache[K, V]) Stats() CacheStats {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.statsLocked()
}

func (c *ObjectCache[K, V]) MarshalJSON() ([]byte, error) {
	c.mtx.Lock()
	depMtx.Lock()
	byID := make(map[string]*cacheEntry[K, V], len(c.entries))
	for _, e := range c.entries {
		byID[e.id] = e
	}

	buff := bytes.Buffer{}
	buff.WriteString("{")
	buff.WriteString(fmt.Sprintf("%q: %q,", "name", c.name))
	buff.WriteString(fmt.Sprintf("%q: %q,", "timeout", c.Timeout()))
	buff.WriteString(fmt.Sprintf("%q: %s,", "stats", jsonString(c.statsLocked())))
	buff.WriteString("\"entries\": {")
	{
		err := mapRunFuncSorted(byID, func(k string, e *cacheEntry[K, V]) error {
			deps := []string{}
			for n := range e.dependencies {
				deps = append(deps, n.id)
			}
			slices.Sort(deps)
			buff.WriteString(fmt.Sprintf("%q: {%q: %q, %q: %d, %q: %s},", k,
				"lastUsed", time.Unix(0, e.lastUsed.Load()).Format(time.RFC3339Nano),
				"dependents", len(e.dependents),
				"dependencies", jsonString(deps),
			))
			return nil
		})
		if err == nil {
			buff.Truncate(buff.Len() - 1)
		}
	}
	buff.WriteString("}")
	buff.WriteString("}")
	depMtx.Unlock()
	c.mtx.Unlock()
	return buff.Bytes(), nil
}

// statsLocked is Stats for callers already holding mtx.
func (c *ObjectCache[K, V]) statsLocked() CacheStats {
	return CacheStats{
		Entries:   len(c.entries),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Builds:    c.builds.Load(),
		Failures:  c.failures.Load(),
		Evictions: c.evictions.Load(),
	}
}
