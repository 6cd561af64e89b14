package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wailbentafat/foxglove-hub/protocol"
)

// subscriber is one recipient of a channel's fan-out.
type subscriber struct {
	session        *ClientSession
	subscriptionID protocol.SubscriptionID
}

// ClientManager is the registry of connected clients and their subscriptions.
type ClientManager struct {
	mu      sync.RWMutex
	clients map[string]*ClientSession
	wg      sync.WaitGroup
}

func NewClientManager() *ClientManager {
	return &ClientManager{
		clients: make(map[string]*ClientSession),
	}
}

func (m *ClientManager) AddClient(session *ClientSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[session.ID] = session
}

// RemoveClient drops the client and all its subscriptions. It reports whether
// the client was registered.
func (m *ClientManager) RemoveClient(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[clientID]; !ok {
		return false
	}
	delete(m.clients, clientID)
	return true
}

func (m *ClientManager) GetClient(clientID string) (*ClientSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.clients[clientID]
	return s, ok
}

func (m *ClientManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Sessions returns the currently registered sessions.
func (m *ClientManager) Sessions() []*ClientSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ClientSession, 0, len(m.clients))
	for _, s := range m.clients {
		out = append(out, s)
	}
	return out
}

// Subscribe records (or overwrites) the client's subscription id for a
// channel. It returns false when the client is no longer registered.
func (m *ClientManager) Subscribe(clientID string, channelID protocol.ChannelID, subID protocol.SubscriptionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.clients[clientID]
	if !ok {
		return false
	}
	s.subscriptions[channelID] = subID
	return true
}

// Unsubscribe removes every subscription of the client whose client-chosen id
// is in subIDs, whatever channel it points at. It returns how many were removed.
func (m *ClientManager) Unsubscribe(clientID string, subIDs []protocol.SubscriptionID) int {
	drop := make(map[protocol.SubscriptionID]struct{}, len(subIDs))
	for _, id := range subIDs {
		drop[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.clients[clientID]
	if !ok {
		return 0
	}
	removed := 0
	for channelID, subID := range s.subscriptions {
		if _, hit := drop[subID]; hit {
			delete(s.subscriptions, channelID)
			removed++
		}
	}
	return removed
}

// Subscriptions returns a copy of the client's channel → subscription map.
func (m *ClientManager) Subscriptions(clientID string) map[protocol.ChannelID]protocol.SubscriptionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.clients[clientID]
	if !ok {
		return nil
	}
	out := make(map[protocol.ChannelID]protocol.SubscriptionID, len(s.subscriptions))
	for k, v := range s.subscriptions {
		out[k] = v
	}
	return out
}

// subscribersOf returns the clients subscribed to channelID right now.
func (m *ClientManager) subscribersOf(channelID protocol.ChannelID) []subscriber {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []subscriber
	for _, s := range m.clients {
		if subID, ok := s.subscriptions[channelID]; ok {
			out = append(out, subscriber{session: s, subscriptionID: subID})
		}
	}
	return out
}

// dropChannel forgets every subscription to channelID.
func (m *ClientManager) dropChannel(channelID protocol.ChannelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.clients {
		delete(s.subscriptions, channelID)
	}
}

func (m *ClientManager) IncreaseWaitGroup() {
	m.wg.Add(1)
}

func (m *ClientManager) DecreaseWaitGroup() {
	m.wg.Done()
}

// WaitForCompletion blocks until every connection handler has returned.
func (m *ClientManager) WaitForCompletion() {
	m.wg.Wait()
}

// CloseAllConnections sends a going-away close to every client. Their
// handlers deregister them as they unwind.
func (m *ClientManager) CloseAllConnections(reason string) {
	for _, session := range m.Sessions() {
		log.Info("closing connection", zap.String("client_id", session.ID), zap.String("reason", reason))
		session.Close(websocket.CloseGoingAway, reason)
	}
}
