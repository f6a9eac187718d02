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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("mailbox", func() {
	It("delivers messages in FIFO order", func() {
		mb := newMailbox()
		for i, id := range []string{"a", "b", "c"} {
			Expect(mb.put(message{requestID: id})).To(Equal(i + 1))
		}

		for i, id := range []string{"a", "b", "c"} {
			msg, depth, ok := mb.next(context.Background())
			Expect(ok).To(BeTrue())
			Expect(msg.requestID).To(Equal(id))
			Expect(depth).To(Equal(2 - i))
		}
	})

	It("wakes a blocked consumer", func() {
		mb := newMailbox()
		received := make(chan string, 1)

		go func() {
			defer GinkgoRecover()

			msg, _, ok := mb.next(context.Background())
			Expect(ok).To(BeTrue())
			received <- msg.requestID
		}()

		time.Sleep(10 * time.Millisecond)
		mb.put(message{requestID: "late"})

		Eventually(received).Should(Receive(Equal("late")))
	})

	It("returns when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, _, ok := newMailbox().next(ctx)
		Expect(ok).To(BeFalse())
	})

	It("never loses messages from concurrent producers", func() {
		mb := newMailbox()

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				for range 100 {
					mb.put(message{})
				}
			}()
		}

		wg.Wait()

		_, depth, ok := mb.next(context.Background())
		Expect(ok).To(BeTrue())
		Expect(depth).To(Equal(999))
	})
})
