package store

import (
	"context"
	"encoding/json"

	xerrors "github.com/walterthesmart/stellAIverse-contracts/internal/errors"
)

// Sequence allocates monotonic uint64 ids from a named counter persisted in a
// Store. The first allocated id is 1; 0 is never handed out so callers can
// treat it as the invalid sentinel. Callers serialize Next with their own
// operation lock; the counter read-modify-write is not atomic on its own.
type Sequence struct {
	store Store
	key   Key
}

// NewSequence binds a counter living at (namespace "counter", ref name).
func NewSequence(s Store, name string) *Sequence {
	return &Sequence{store: s, key: Key{Namespace: "counter", Ref: name}}
}

// Current returns the last allocated id, or 0 if none was allocated yet.
func (s *Sequence) Current(ctx context.Context) (uint64, error) {
	raw, ok, err := s.store.Get(ctx, s.key)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, "read counter", err)
	}
	if !ok {
		return 0, nil
	}
	var cur uint64
	if err := json.Unmarshal(raw, &cur); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, "decode counter", err)
	}
	return cur, nil
}

// Next allocates and persists the next id.
func (s *Sequence) Next(ctx context.Context) (uint64, error) {
	cur, err := s.Current(ctx)
	if err != nil {
		return 0, err
	}
	next := cur + 1
	if next == 0 {
		return 0, xerrors.New(xerrors.CodeOverflow, "id counter overflow")
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, "encode counter", err)
	}
	if err := s.store.Set(ctx, s.key, raw); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, "write counter", err)
	}
	return next, nil
}
