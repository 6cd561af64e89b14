package websocket

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/wailbentafat/foxglove-hub/protocol"
)

// latchedMessage is the retained last message of a latching channel.
type latchedMessage struct {
	timestamp uint64
	payload   []byte
}

// channelEntry is the registry record of one advertised channel.
//
// mu serializes publishing on this channel against subscribes to it, so a
// subscriber either shows up in a publish fan-out or replays that publish
// from the latched slot, never both and never neither.
type channelEntry struct {
	info     protocol.Channel
	latching bool

	mu      sync.Mutex
	latched *latchedMessage
	removed bool
}

// ChannelRegistry owns channel id allocation and the set of advertised channels.
type ChannelRegistry struct {
	nextID atomic.Uint64

	mu       sync.RWMutex
	channels map[protocol.ChannelID]*channelEntry
}

// NewChannelRegistry returns an empty registry whose first id is 0.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{channels: make(map[protocol.ChannelID]*channelEntry)}
}

// Allocate returns a fresh channel id, greater than every id returned before.
func (r *ChannelRegistry) Allocate() protocol.ChannelID {
	return protocol.ChannelID(r.nextID.Add(1) - 1)
}

// register inserts entry. announce runs while the registry is write-locked so
// that concurrent snapshot readers see the channel either in their snapshot or
// through announce, but not both.
func (r *ChannelRegistry) register(entry *channelEntry, announce func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[entry.info.ID] = entry
	if announce != nil {
		announce()
	}
}

// unregister removes id. Removing an absent id is a no-op and announce is
// not called.
func (r *ChannelRegistry) unregister(id protocol.ChannelID, announce func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[id]; !ok {
		return false
	}
	delete(r.channels, id)
	if announce != nil {
		announce()
	}
	return true
}

// Unregister removes id without notifying anyone.
func (r *ChannelRegistry) Unregister(id protocol.ChannelID) {
	r.unregister(id, nil)
}

func (r *ChannelRegistry) lookup(id protocol.ChannelID) (*channelEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.channels[id]
	return e, ok
}

// Get returns the metadata of an advertised channel.
func (r *ChannelRegistry) Get(id protocol.ChannelID) (protocol.Channel, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return protocol.Channel{}, false
	}
	return e.info, true
}

// Snapshot returns all advertised channels ordered by id.
func (r *ChannelRegistry) Snapshot() []protocol.Channel {
	var out []protocol.Channel
	r.withSnapshot(func(channels []protocol.Channel) { out = channels })
	return out
}

// withSnapshot calls fn with the current channel list while holding the read
// lock, so no register/unregister announcement can interleave with fn.
func (r *ChannelRegistry) withSnapshot(fn func([]protocol.Channel)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Channel, 0, len(r.channels))
	for _, e := range r.channels {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	fn(out)
}

// LatchedMessage returns the retained message of a latching channel, if any.
func (r *ChannelRegistry) LatchedMessage(id protocol.ChannelID) (timestamp uint64, payload []byte, ok bool) {
	e, found := r.lookup(id)
	if !found {
		return 0, nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latched == nil {
		return 0, nil, false
	}
	return e.latched.timestamp, append([]byte(nil), e.latched.payload...), true
}

// Len returns the number of advertised channels.
func (r *ChannelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
