package sse

import (
	"context"
	"sync"

	"ms-contest/internal/models"
)

// LeaderboardEmitter fans leaderboard snapshots out to connected SSE clients
type LeaderboardEmitter struct {
	clients     map[chan models.LeaderboardUpdate]struct{}
	clientMutex sync.RWMutex
	last        *models.LeaderboardUpdate
	bufferSize  int
}

func NewLeaderboardEmitter() *LeaderboardEmitter {
	return &LeaderboardEmitter{
		clients:    make(map[chan models.LeaderboardUpdate]struct{}),
		bufferSize: 10,
	}
}

// Subscribe registers a client until ctx is done. The channel is closed on removal.
// A new client immediately receives the most recent snapshot, if any.
func (e *LeaderboardEmitter) Subscribe(ctx context.Context) <-chan models.LeaderboardUpdate {
	clientChan := make(chan models.LeaderboardUpdate, e.bufferSize)

	e.clientMutex.Lock()
	e.clients[clientChan] = struct{}{}
	if e.last != nil {
		clientChan <- *e.last
	}
	e.clientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(clientChan)
	}()

	return clientChan
}

// Emit broadcasts an update. Slow clients whose buffer is full miss it.
func (e *LeaderboardEmitter) Emit(update models.LeaderboardUpdate) {
	e.clientMutex.Lock()
	e.last = &update
	e.clientMutex.Unlock()

	// Sends happen under the read lock so remove cannot close a channel mid-send.
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()
	for clientChan := range e.clients {
		select {
		case clientChan <- update:
		default:
		}
	}
}

func (e *LeaderboardEmitter) remove(clientChan chan models.LeaderboardUpdate) {
	e.clientMutex.Lock()
	defer e.clientMutex.Unlock()

	if _, ok := e.clients[clientChan]; ok {
		delete(e.clients, clientChan)
		close(clientChan)
	}
}

// ClientCount returns the number of connected clients
func (e *LeaderboardEmitter) ClientCount() int {
	e.clientMutex.RLock()
	defer e.clientMutex.RUnlock()
	return len(e.clients)
}
