// Package idlecache holds authenticated backend connections that have
// finished a client session and can be handed to the next client that
// authenticates as the same (backend, username) pair, instead of
// re-dialing and re-authenticating from scratch.
package idlecache

import (
	"net"
	"sync"
	"time"
)

// Entry is one idle backend connection sitting in the cache, still
// authenticated against its original username.
type Entry struct {
	Conn       net.Conn
	Backend    string
	Username   string
	InsertedAt time.Time

	// Challenge and Scramble are the auth-phase challenge this
	// connection's backend handshake issued and the resulting
	// mysql_native_password response the owning client produced against
	// it. internal/session re-presents Challenge to a reconnecting
	// client as a synthesized handshake and compares the client's new
	// scramble against Scramble to verify identity without ever seeing
	// a plaintext password, per §4.5 CONNECT_SERVER's idle-reuse path.
	Challenge []byte
	Scramble  []byte

	mu          sync.Mutex
	evicted     bool
	watchDone   chan struct{}
	watchExited chan struct{}
}

func (e *Entry) markEvicted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return false
	}
	e.evicted = true
	return true
}

// key identifies a bucket of idle connections sharing a backend and an
// authenticated username.
type key struct {
	backend  string
	username string
}

// Cache is the per-(backend, username) idle-connection pool described in
// §4.4: entries are handed out in LIFO order (most-recently-idled first,
// matching the teacher's pool.idle stack discipline in
// internal/pool/pool.go's Acquire), and a background watcher closes and
// evicts an entry the instant its peer becomes readable — an idle
// connection should never receive unsolicited bytes.
type Cache struct {
	mu      sync.Mutex
	entries map[key][]*Entry
	count   map[string]int // per-backend total, for cross-user borrowing

	maxIdlePerBackend int
	minIdleToBorrow   int
}

// NewCache returns an empty Cache. maxIdlePerBackend bounds how many idle
// connections a single backend may hold in total (oldest evicted first);
// minIdleToBorrow is the MinIdleConnections threshold above which a
// request for one username may be satisfied by another username's idle
// connection, provided it is re-authenticated before reuse — expressed
// here as a caller contract (Get returns the entry; the caller is
// responsible for re-auth before handing it to a client), since
// idlecache has no protocol knowledge of its own.
func NewCache(maxIdlePerBackend, minIdleToBorrow int) *Cache {
	return &Cache{
		entries:           make(map[key][]*Entry),
		count:             make(map[string]int),
		maxIdlePerBackend: maxIdlePerBackend,
		minIdleToBorrow:   minIdleToBorrow,
	}
}

// Add inserts a connection into the cache and arms its eviction watcher.
// If the backend is already at maxIdlePerBackend, the oldest entry for
// that backend is evicted to make room.
func (c *Cache) Add(backendAddr, username string, conn net.Conn) *Entry {
	e := &Entry{
		Conn:        conn,
		Backend:     backendAddr,
		Username:    username,
		InsertedAt:  time.Now(),
		watchDone:   make(chan struct{}),
		watchExited: make(chan struct{}),
	}

	c.mu.Lock()
	if c.maxIdlePerBackend > 0 && c.count[backendAddr] >= c.maxIdlePerBackend {
		c.evictOldestLocked(backendAddr)
	}
	k := key{backendAddr, username}
	c.entries[k] = append(c.entries[k], e)
	c.count[backendAddr]++
	c.mu.Unlock()

	go c.watch(e)
	return e
}

// evictOldestLocked drops the oldest idle entry for a backend across all
// usernames. Caller must hold c.mu.
func (c *Cache) evictOldestLocked(backendAddr string) {
	var oldestKey key
	var oldestIdx int
	var oldest *Entry
	for k, list := range c.entries {
		if k.backend != backendAddr {
			continue
		}
		for i, e := range list {
			if oldest == nil || e.InsertedAt.Before(oldest.InsertedAt) {
				oldest = e
				oldestKey = k
				oldestIdx = i
			}
		}
	}
	if oldest == nil {
		return
	}
	c.removeLocked(oldestKey, oldestIdx)
	if oldest.markEvicted() {
		close(oldest.watchDone)
		oldest.Conn.Close()
	}
}

// removeLocked splices index i out of entries[k] and decrements the
// backend's count. Caller must hold c.mu.
func (c *Cache) removeLocked(k key, i int) {
	list := c.entries[k]
	list = append(list[:i], list[i+1:]...)
	if len(list) == 0 {
		delete(c.entries, k)
	} else {
		c.entries[k] = list
	}
	c.count[k.backend]--
}

// Get removes and returns the most recently idled connection for
// (backendAddr, username), if any. When exact is false and no entry
// matches the username but the backend's total idle count exceeds
// minIdleToBorrow, an entry belonging to a different username on the
// same backend is returned instead (cross-user borrowing, §4.4) — the
// caller must re-authenticate it as username before use.
func (c *Cache) Get(backendAddr, username string, exact bool) (*Entry, bool) {
	c.mu.Lock()
	k := key{backendAddr, username}
	if list := c.entries[k]; len(list) > 0 {
		e := list[len(list)-1]
		c.removeLocked(k, len(list)-1)
		if e.markEvicted() {
			c.mu.Unlock()
			stopWatcher(e)
			return e, true
		}
	}

	if exact || c.count[backendAddr] <= c.minIdleToBorrow {
		c.mu.Unlock()
		return nil, false
	}
	for ok, list := range c.entries {
		if ok.backend != backendAddr || len(list) == 0 {
			continue
		}
		e := list[len(list)-1]
		c.removeLocked(ok, len(list)-1)
		if e.markEvicted() {
			c.mu.Unlock()
			stopWatcher(e)
			return e, true
		}
	}
	c.mu.Unlock()
	return nil, false
}

// Borrow removes and returns any one idle connection cached for
// backendAddr, regardless of username, ignoring minIdleToBorrow — used by
// internal/session's CONNECT_SERVER to reuse a live, already-authenticated
// backend connection's original handshake challenge for a brand new
// client before that client's username is even known. The client's
// identity is verified (or the connection re-authenticated via
// COM_CHANGE_USER) once READ_AUTH has the real username and scramble.
func (c *Cache) Borrow(backendAddr string) (*Entry, bool) {
	c.mu.Lock()
	for k, list := range c.entries {
		if k.backend != backendAddr || len(list) == 0 {
			continue
		}
		e := list[len(list)-1]
		c.removeLocked(k, len(list)-1)
		if e.markEvicted() {
			c.mu.Unlock()
			stopWatcher(e)
			return e, true
		}
	}
	c.mu.Unlock()
	return nil, false
}

// Remove drops entry e from the cache without returning it (used when
// the watcher observes it become readable and must evict rather than
// hand it out). Safe to call even if e was already removed.
func (c *Cache) Remove(e *Entry) {
	if !e.markEvicted() {
		return
	}
	close(e.watchDone)

	c.mu.Lock()
	k := key{e.Backend, e.Username}
	list := c.entries[k]
	for i, cand := range list {
		if cand == e {
			c.removeLocked(k, i)
			break
		}
	}
	c.mu.Unlock()

	e.Conn.Close()
}

// Count returns the number of idle connections currently cached for a
// backend, across all usernames.
func (c *Cache) Count(backendAddr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count[backendAddr]
}

// watchPollInterval bounds how long a single deadline-based readiness
// probe blocks, grounded on pool.PooledConn.Ping's 100ms single-byte
// deadline read — repeated here in a loop so the watcher notices
// liveness on the peer's schedule rather than a point-in-time check.
const watchPollInterval = 100 * time.Millisecond

// stopWatcher closes e's watchDone and blocks until watch has actually
// observed it and returned, rather than just signaling it: closing
// watchDone alone does not interrupt a Read already blocked on
// watchPollInterval's deadline, so a hand-out racing that in-flight Read
// could have its first byte silently consumed by the watcher. Poking the
// read deadline forward wakes the Read immediately instead of waiting out
// the rest of its poll interval.
func stopWatcher(e *Entry) {
	close(e.watchDone)
	e.Conn.SetReadDeadline(time.Now())
	<-e.watchExited
}

// watch blocks until either e is removed from the cache by a caller
// (Get/Remove) or the underlying connection becomes readable, in which
// case it is evicted: an idle connection must never be handed to a
// client after its peer has sent something unsolicited.
func (c *Cache) watch(e *Entry) {
	defer close(e.watchExited)
	buf := make([]byte, 1)
	for {
		select {
		case <-e.watchDone:
			return
		default:
		}

		e.Conn.SetReadDeadline(time.Now().Add(watchPollInterval))
		_, err := e.Conn.Read(buf)
		e.Conn.SetReadDeadline(time.Time{})

		if err == nil {
			// The peer sent something while idle: treat it as a dead or
			// misbehaving connection and evict.
			c.Remove(e)
			return
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			continue // still idle and alive, keep watching
		}
		// Any non-timeout error (EOF, reset) means the connection is gone.
		c.Remove(e)
		return
	}
}
