package classify

import (
	"sync"

	"github.com/chainpulse/walletmon/internal/domain"
)

// backfillQueue holds classified records whose price lookup failed, awaiting
// bounded retries. It is safe for concurrent use: the poller pushes while
// the backfill tick drains.
type backfillQueue struct {
	mu          sync.Mutex
	pending     []domain.ClassifiedTransaction
	maxAttempts int
}

func newBackfillQueue(maxAttempts int) *backfillQueue {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &backfillQueue{maxAttempts: maxAttempts}
}

func (q *backfillQueue) push(tx domain.ClassifiedTransaction) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, tx)
}

// drain removes and returns all queued records.
func (q *backfillQueue) drain() []domain.ClassifiedTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// exhausted reports whether the record has used up its attempt budget.
func (q *backfillQueue) exhausted(tx domain.ClassifiedTransaction) bool {
	return tx.PriceAttempts >= q.maxAttempts
}

func (q *backfillQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
