package bucket

import "sync"

// lastKnownGood caches successful listing pages keyed by viewer, bucket,
// and cursor. Entries are only ever replaced by newer successful reads,
// so a backend outage serves the freshest data that ever existed rather
// than nothing.
type lastKnownGood struct {
	mu    sync.RWMutex
	pages map[cacheKey]*Page
}

type cacheKey struct {
	role   Role
	viewer string
	bucket Bucket
	cursor string
}

func newLastKnownGood() *lastKnownGood {
	return &lastKnownGood{pages: make(map[cacheKey]*Page)}
}

func (c *lastKnownGood) key(v Viewer, b Bucket, cursor string) cacheKey {
	return cacheKey{role: v.Role, viewer: v.ID.String(), bucket: b, cursor: cursor}
}

func (c *lastKnownGood) get(v Viewer, b Bucket, cursor string) (*Page, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	page, ok := c.pages[c.key(v, b, cursor)]
	if !ok {
		return nil, false
	}

	stale := *page
	stale.Stale = true
	return &stale, true
}

func (c *lastKnownGood) put(v Viewer, b Bucket, cursor string, page *Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[c.key(v, b, cursor)] = page
}
