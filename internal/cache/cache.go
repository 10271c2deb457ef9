// Package cache holds fetched messages keyed by (owner, folder, UID).
//
// The cache is advisory. It never mutates the mail store, entries expire after
// a fixed TTL whether or not they were invalidated, and an optional durable
// tier is consulted on a miss.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL bounds staleness against other clients mutating the mailbox.
const DefaultTTL = 60 * time.Second

const minJanitorInterval = time.Second

// loadTimeout bounds a shared load once it no longer follows its first caller.
const loadTimeout = 30 * time.Second

// Key identifies a cached message. The starred view is keyed under inbox.
type Key struct {
	Owner  string
	Folder string
	UID    uint32
}

// NewKey builds the key of a message in folder.
func NewKey(owner, folder string, uid uint32) Key {
	return Key{Owner: owner, Folder: models.StorageFolder(folder), UID: uid}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Owner, k.Folder, k.UID)
}

type folderKey struct {
	owner  string
	folder string
}

type entry struct {
	msg     *models.Message
	expires time.Time
}

// Tier is a durable second level consulted on in-memory misses.
// Get returns nil, nil on a miss.
type Tier interface {
	Get(ctx context.Context, key Key) (*models.Message, error)
	Put(ctx context.Context, key Key, msg *models.Message, ttl time.Duration) error
	Delete(ctx context.Context, key Key) error
	DeleteFolder(ctx context.Context, owner, folder string) error
	DeleteOwner(ctx context.Context, owner string) error
}

// Loader fetches a message from the store on a cache miss.
type Loader func(ctx context.Context) (*models.Message, error)

// Cache is an in-memory message cache with optional durable tier.
type Cache struct {
	ttl  time.Duration
	tier Tier
	now  func() time.Time

	mu      sync.RWMutex
	entries map[Key]entry
	// generations are bumped on folder invalidation so that loads started
	// before an invalidation do not repopulate the cache.
	generations map[folderKey]uint64

	group     singleflight.Group
	flightsMu sync.Mutex
	flights   map[string]*flight

	cancel context.CancelFunc
}

// New creates a cache. A non-positive ttl selects DefaultTTL; tier may be nil.
func New(ttl time.Duration, tier Tier) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		ttl:         ttl,
		tier:        tier,
		now:         time.Now,
		entries:     make(map[Key]entry),
		generations: make(map[folderKey]uint64),
		flights:     make(map[string]*flight),
		cancel:      cancel,
	}

	interval := ttl
	if interval < minJanitorInterval {
		interval = minJanitorInterval
	}
	go c.janitor(ctx, interval)

	return c
}

// TTL returns the entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached message or a not-found error.
func (c *Cache) Get(ctx context.Context, owner, folder string, uid uint32) (*models.Message, error) {
	key := NewKey(owner, folder, uid)

	if msg, ok := c.getLocal(key); ok {
		return msg, nil
	}

	if c.tier != nil {
		msg, err := c.tier.Get(ctx, key)
		if err != nil {
			logrus.WithField("key", key.String()).WithError(err).Warn("Cache: durable tier read failed")
		} else if msg != nil {
			c.putLocal(key, msg)
			return copyMessage(msg), nil
		}
	}

	return nil, mailerr.NotFound("message %d not cached in %s", uid, key.Folder)
}

func (c *Cache) getLocal(key Key) (*models.Message, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(e.expires) {
		return nil, false
	}
	return copyMessage(e.msg), true
}

// Put stores msg under its (owner, folder, uid) key.
func (c *Cache) Put(ctx context.Context, owner string, msg *models.Message) {
	if msg == nil {
		return
	}
	key := NewKey(owner, msg.Folder, msg.UID)
	c.putLocal(key, msg)

	if c.tier != nil {
		if err := c.tier.Put(ctx, key, msg, c.ttl); err != nil {
			logrus.WithField("key", key.String()).WithError(err).Warn("Cache: durable tier write failed")
		}
	}
}

func (c *Cache) putLocal(key Key, msg *models.Message) {
	c.mu.Lock()
	c.entries[key] = entry{msg: copyMessage(msg), expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// GetOrLoad returns the cached message, calling load on a miss. Concurrent
// misses on the same key share one load. A caller that gives up only stops
// waiting; the load is cancelled once every caller has given up. Errors are
// not cached.
func (c *Cache) GetOrLoad(ctx context.Context, owner, folder string, uid uint32, load Loader) (*models.Message, error) {
	if msg, err := c.Get(ctx, owner, folder, uid); err == nil {
		return msg, nil
	}

	key := NewKey(owner, folder, uid)
	name := key.String()
	gen := c.generation(key)

	f := c.join(ctx, name)
	defer c.leave(name, f)

	ch := c.group.DoChan(name, func() (interface{}, error) {
		msg, err := load(f.ctx)
		if err != nil {
			return nil, err
		}
		if c.generation(key) == gen {
			c.Put(f.ctx, owner, msg)
		}
		return msg, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyMessage(res.Val.(*models.Message)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flight is the context shared by every caller waiting on one load.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (c *Cache) join(ctx context.Context, name string) *flight {
	c.flightsMu.Lock()
	defer c.flightsMu.Unlock()

	f, ok := c.flights[name]
	if !ok {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[name] = f
	}
	f.waiters++
	return f
}

// leave cancels the load when its last caller is gone. The key is forgotten
// so that later callers start a fresh load.
func (c *Cache) leave(name string, f *flight) {
	c.flightsMu.Lock()
	defer c.flightsMu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[name] == f {
		delete(c.flights, name)
		c.group.Forget(name)
	}
}

func (c *Cache) generation(key Key) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[folderKey{owner: key.Owner, folder: key.Folder}]
}

// Invalidate drops one message.
func (c *Cache) Invalidate(ctx context.Context, owner, folder string, uid uint32) {
	key := NewKey(owner, folder, uid)

	c.mu.Lock()
	delete(c.entries, key)
	c.generations[folderKey{owner: key.Owner, folder: key.Folder}]++
	c.mu.Unlock()

	if c.tier != nil {
		if err := c.tier.Delete(ctx, key); err != nil {
			logrus.WithField("key", key.String()).WithError(err).Warn("Cache: durable tier delete failed")
		}
	}
}

// InvalidateFolder drops every message of one folder.
func (c *Cache) InvalidateFolder(ctx context.Context, owner, folder string) {
	folder = models.StorageFolder(folder)

	c.mu.Lock()
	for key := range c.entries {
		if key.Owner == owner && key.Folder == folder {
			delete(c.entries, key)
		}
	}
	c.generations[folderKey{owner: owner, folder: folder}]++
	c.mu.Unlock()

	if c.tier != nil {
		if err := c.tier.DeleteFolder(ctx, owner, folder); err != nil {
			logrus.WithFields(logrus.Fields{"owner": owner, "folder": folder}).WithError(err).Warn("Cache: durable tier folder delete failed")
		}
	}
}

// InvalidateOwner drops everything cached for owner.
func (c *Cache) InvalidateOwner(ctx context.Context, owner string) {
	c.mu.Lock()
	for key := range c.entries {
		if key.Owner == owner {
			delete(c.entries, key)
		}
	}
	for fk := range c.generations {
		if fk.owner == owner {
			c.generations[fk]++
		}
	}
	c.mu.Unlock()

	if c.tier != nil {
		if err := c.tier.DeleteOwner(ctx, owner); err != nil {
			logrus.WithField("owner", owner).WithError(err).Warn("Cache: durable tier owner delete failed")
		}
	}
}

// Len returns the number of in-memory entries, expired ones included until pruned.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the janitor.
func (c *Cache) Close() {
	c.cancel()
}

func (c *Cache) janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.prune()
		}
	}
}

// prune removes expired entries.
func (c *Cache) prune() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, key)
		}
	}
}

func copyMessage(msg *models.Message) *models.Message {
	cp := *msg
	return &cp
}
