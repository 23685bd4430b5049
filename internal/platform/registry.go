package platform

import "sync"

// channelRegistry tracks channels the gateway has announced, so handlers
// can read topics without a REST round-trip per message.
type channelRegistry struct {
	mu   sync.RWMutex
	byID map[string]Channel
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{byID: make(map[string]Channel)}
}

func (r *channelRegistry) put(ch Channel) {
	if ch.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch.GuildID == "" {
		if prev, ok := r.byID[ch.ID]; ok {
			ch.GuildID = prev.GuildID
		}
	}
	r.byID[ch.ID] = ch
}

func (r *channelRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

func (r *channelRegistry) get(id string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byID[id]
	return ch, ok
}

func (r *channelRegistry) byTopic(topic string) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Channel
	for _, ch := range r.byID {
		if ch.Type == ChannelTypeGuildText && ch.Topic == topic {
			out = append(out, ch)
		}
	}
	return out
}

func (r *channelRegistry) byName(guildID, name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.byID {
		if ch.GuildID == guildID && ch.Name == name {
			return ch, true
		}
	}
	return Channel{}, false
}
