package link

import (
	"sync"

	"github.com/danmuck/binlink/internal/protocol/message"
)

// pendingTable maps written request ids to their waiters. The writer adds, the reader
// takes, SendRequest drops on timeout and Close fails the rest.
type pendingTable struct {
	mu    sync.Mutex
	byID  map[int64]*message.AsyncResponse
	idsOf map[*message.AsyncResponse]int64
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		byID:  make(map[int64]*message.AsyncResponse),
		idsOf: make(map[*message.AsyncResponse]int64),
	}
}

// add registers a under id unless its waiter already gave up.
func (p *pendingTable) add(id int64, a *message.AsyncResponse) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, settled := a.Response(); settled {
		return false
	}
	p.byID[id] = a
	p.idsOf[a] = id
	return true
}

func (p *pendingTable) take(id int64) (*message.AsyncResponse, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.byID[id]
	if ok {
		delete(p.byID, id)
		delete(p.idsOf, a)
	}
	return a, ok
}

func (p *pendingTable) drop(a *message.AsyncResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.idsOf[a]; ok {
		delete(p.idsOf, a)
		delete(p.byID, id)
	}
}

func (p *pendingTable) failAll(err error) {
	p.mu.Lock()
	waiters := make([]*message.AsyncResponse, 0, len(p.byID))
	for id, a := range p.byID {
		waiters = append(waiters, a)
		delete(p.byID, id)
		delete(p.idsOf, a)
	}
	p.mu.Unlock()
	for _, a := range waiters {
		a.Fail(err)
	}
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}
