package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps the ledger in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	receipts map[string]Receipt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]Entry),
		receipts: make(map[string]Receipt),
	}
}

func receiptKey(instanceID, proposalID string) string {
	return instanceID + "\x00" + proposalID
}

func (s *MemoryStore) Load(ctx context.Context, instanceID string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[instanceID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) Create(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.InstanceID]; ok {
		return ErrExists
	}
	s.entries[e.InstanceID] = e
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, prevVersion int64, next Entry, r *Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[next.InstanceID]
	if !ok || cur.Version != prevVersion {
		return ErrConflict
	}
	if r != nil {
		key := receiptKey(r.InstanceID, r.ProposalID)
		if _, dup := s.receipts[key]; dup {
			return ErrDuplicateProposal
		}
		s.receipts[key] = *r
	}
	s.entries[next.InstanceID] = next
	return nil
}

func (s *MemoryStore) Receipt(ctx context.Context, instanceID, proposalID string) (Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[receiptKey(instanceID, proposalID)]
	if !ok {
		return Receipt{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) ListReceipts(ctx context.Context, instanceID string) ([]Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Receipt
	for _, r := range s.receipts {
		if r.InstanceID == instanceID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppliedAt.Before(out[j].AppliedAt) })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
