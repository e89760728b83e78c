package transport

import (
	"context"
	"sync"

	"github.com/nadzzz/aura/internal/message"
)

// Reply receives the outcome of a queued message.
type Reply func(result *message.DispatchResult, err error)

// Queue feeds messages to a Handler one session at a time, in the order they
// were submitted. Messages of different sessions run concurrently. Messages
// for which the urgent predicate holds, such as a spoken cancel, skip the
// queue and run at once so they can reach a turn that is still in progress.
type Queue struct {
	handler Handler
	urgent  func(*message.Message) bool

	mu       sync.Mutex
	sessions map[string]*backlog
	wg       sync.WaitGroup
}

type backlog struct {
	pending []queued
}

type queued struct {
	ctx   context.Context
	msg   *message.Message
	reply Reply
}

// NewQueue returns a Queue in front of handler. urgent may be nil.
func NewQueue(handler Handler, urgent func(*message.Message) bool) *Queue {
	return &Queue{
		handler:  handler,
		urgent:   urgent,
		sessions: make(map[string]*backlog),
	}
}

// Submit schedules msg and returns without waiting for it. reply is called
// from the goroutine that handled msg.
func (q *Queue) Submit(ctx context.Context, msg *message.Message, reply Reply) {
	item := queued{ctx: ctx, msg: msg, reply: reply}
	if q.urgent != nil && q.urgent(msg) {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.run(item)
		}()
		return
	}

	session := msg.Session()
	q.mu.Lock()
	b, busy := q.sessions[session]
	if !busy {
		b = &backlog{}
		q.sessions[session] = b
	}
	b.pending = append(b.pending, item)
	q.mu.Unlock()

	if !busy {
		q.wg.Add(1)
		go q.drain(session, b)
	}
}

// drain runs the session's backlog until it is empty.
func (q *Queue) drain(session string, b *backlog) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(b.pending) == 0 {
			delete(q.sessions, session)
			q.mu.Unlock()
			return
		}
		item := b.pending[0]
		b.pending = b.pending[1:]
		q.mu.Unlock()

		q.run(item)
	}
}

func (q *Queue) run(item queued) {
	result, err := q.handler(item.ctx, item.msg)
	if item.reply != nil {
		item.reply(result, err)
	}
}

// Wait blocks until every submitted message has been handled.
func (q *Queue) Wait() {
	q.wg.Wait()
}
