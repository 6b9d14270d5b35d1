package monitor

import "sync"

type channelBatch struct {
	accounts []string
	problems []string
	errors   []string
}

// batchSet accumulates one cycle's per-channel batches. Channels keep first-seen order.
type batchSet struct {
	mu        sync.Mutex
	order     []string
	byChannel map[string]*channelBatch
}

func newBatchSet() *batchSet {
	return &batchSet{byChannel: make(map[string]*channelBatch)}
}

func (b *batchSet) channelLocked(channelID string) *channelBatch {
	cb, ok := b.byChannel[channelID]
	if !ok {
		cb = &channelBatch{}
		b.byChannel[channelID] = cb
		b.order = append(b.order, channelID)
	}
	return cb
}

func (b *batchSet) addItem(channelID, account, problem string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb := b.channelLocked(channelID)
	cb.accounts = append(cb.accounts, account)
	cb.problems = append(cb.problems, problem)
}

func (b *batchSet) addError(channelID, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb := b.channelLocked(channelID)
	cb.errors = append(cb.errors, message)
}

// snapshot is called once accumulation is over.
func (b *batchSet) snapshot() ([]string, map[string]*channelBatch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.order, b.byChannel
}
