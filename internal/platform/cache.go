package platform

import (
	"container/list"
	"sync"
)

// CachedMessage is a message as the bot last saw it, plus whether the bot
// marked it as an accepted game move. Gateway delete events carry only IDs,
// so this cache is what lets the integrity monitor see pre-event content.
type CachedMessage struct {
	Message
	Accepted bool
}

// MessageCache is a bounded FIFO cache of recent messages keyed by message
// ID. Oldest entries are evicted once the limit is reached; an evicted
// accepted move can no longer trigger a tamper call-out, which matches the
// stale-violation suppression rule (only the current chain head matters).
type MessageCache struct {
	mu    sync.Mutex
	limit int
	order *list.List // front = oldest, values are message IDs
	byID  map[string]*cacheEntry
}

type cacheEntry struct {
	msg  CachedMessage
	elem *list.Element
}

// NewMessageCache creates a cache holding at most limit messages.
func NewMessageCache(limit int) *MessageCache {
	if limit <= 0 {
		limit = 2048
	}
	return &MessageCache{
		limit: limit,
		order: list.New(),
		byID:  make(map[string]*cacheEntry),
	}
}

// Put stores a newly created message, evicting the oldest entry if full.
func (c *MessageCache) Put(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.byID[m.ID]; ok {
		e.msg.Message = m
		return
	}
	for c.order.Len() >= c.limit {
		front := c.order.Front()
		c.order.Remove(front)
		delete(c.byID, front.Value.(string))
	}
	elem := c.order.PushBack(m.ID)
	c.byID[m.ID] = &cacheEntry{msg: CachedMessage{Message: m}, elem: elem}
}

// Get returns the cached copy of a message.
func (c *MessageCache) Get(id string) (CachedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byID[id]
	if !ok {
		return CachedMessage{}, false
	}
	return e.msg, true
}

// MarkAccepted records that the bot annotated the message as accepted.
func (c *MessageCache) MarkAccepted(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.byID[id]; ok {
		e.msg.Accepted = true
	}
}

// UpdateContent replaces the stored content after an edit and returns the
// pre-edit copy. The accepted flag is kept: the reaction survives an edit.
func (c *MessageCache) UpdateContent(id, content string) (CachedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byID[id]
	if !ok {
		return CachedMessage{}, false
	}
	before := e.msg
	e.msg.Content = content
	return before, true
}

// Remove drops a deleted message from the cache and returns its last
// known state.
func (c *MessageCache) Remove(id string) (CachedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byID[id]
	if !ok {
		return CachedMessage{}, false
	}
	c.order.Remove(e.elem)
	delete(c.byID, id)
	return e.msg, true
}

// Len reports the number of cached messages.
func (c *MessageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
