package internal

import "sync"

// Hub tracks open stream connections by the token that opened them so that
// logging out can end every session that token started.
type Hub struct {
	mutex   sync.RWMutex
	streams map[string]map[*Client]struct{}
}

// builds an empty hub ready to serve websocket requests
func NewHub() *Hub {
	return &Hub{streams: make(map[string]map[*Client]struct{})}
}

func (hub *Hub) register(client *Client) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	set, ok := hub.streams[client.token]
	if !ok {
		set = make(map[*Client]struct{})
		hub.streams[client.token] = set
	}
	set[client] = struct{}{}
}

func (hub *Hub) unregister(client *Client) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if set, ok := hub.streams[client.token]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(hub.streams, client.token)
		}
	}
}

// Count returns the number of open streams.
func (hub *Hub) Count() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	total := 0
	for _, set := range hub.streams {
		total += len(set)
	}
	return total
}

// CloseToken ends every stream opened with token.
func (hub *Hub) CloseToken(token string) {
	hub.mutex.RLock()
	clients := make([]*Client, 0, len(hub.streams[token]))
	for client := range hub.streams[token] {
		clients = append(clients, client)
	}
	hub.mutex.RUnlock()
	for _, client := range clients {
		client.close()
	}
}

// CloseAll ends every stream.
func (hub *Hub) CloseAll() {
	hub.mutex.RLock()
	var clients []*Client
	for _, set := range hub.streams {
		for client := range set {
			clients = append(clients, client)
		}
	}
	hub.mutex.RUnlock()
	for _, client := range clients {
		client.close()
	}
}
