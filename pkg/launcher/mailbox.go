// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package launcher

import (
	"context"
	"sync"

	"github.com/golang-collections/collections/queue"
)

// message is either an external event or the completion of a remote action.
type message struct {
	requestID string
	event     *Event

	record *launchRecord
	action remoteAction
	err    error
}

func (m message) isCompletion() bool {
	return m.action != nil
}

// mailbox is an unbounded FIFO with a single consumer. put never blocks.
type mailbox struct {
	mu     sync.Mutex
	q      *queue.Queue
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		q:      queue.New(),
		notify: make(chan struct{}, 1),
	}
}

// put appends msg and returns the depth afterwards.
func (mb *mailbox) put(msg message) int {
	mb.mu.Lock()
	mb.q.Enqueue(msg)
	depth := mb.q.Len()
	mb.mu.Unlock()

	select {
	case mb.notify <- struct{}{}:
	default:
	}

	return depth
}

// next blocks until a message is available or ctx is done.
func (mb *mailbox) next(ctx context.Context) (message, int, bool) {
	for {
		mb.mu.Lock()
		if mb.q.Len() > 0 {
			msg, _ := mb.q.Dequeue().(message)
			depth := mb.q.Len()
			mb.mu.Unlock()

			return msg, depth, true
		}
		mb.mu.Unlock()

		select {
		case <-mb.notify:
		case <-ctx.Done():
			return message{}, 0, false
		}
	}
}
