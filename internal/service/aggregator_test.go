package service

import (
	"context"
	"testing"

	"chatledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	deltas []model.PeriodDelta
}

func (s *recordingStore) Apply(_ context.Context, d model.PeriodDelta) error {
	s.deltas = append(s.deltas, d)
	return nil
}

func TestOnEdit_SameBucketAppliesSingleDiff(t *testing.T) {
	store := &recordingStore{}
	a := NewAggregator(store)

	old := TxFields{Period: june, From: "A", To: "B", Amount: 100}
	updated := TxFields{Period: june, From: "A", To: "B", Amount: 150}
	require.NoError(t, a.OnEdit(context.Background(), 1, old, updated))

	require.Len(t, store.deltas, 1)
	d := store.deltas[0]
	assert.Equal(t, int64(0), d.TxCount)
	assert.Equal(t, []model.MemberDelta{
		{MemberID: "A", Sent: 50},
		{MemberID: "B", Received: 50},
	}, d.Members)
}

func TestOnEdit_ZeroDiffIsSkipped(t *testing.T) {
	store := &recordingStore{}
	a := NewAggregator(store)

	f := TxFields{Period: june, From: "A", To: "B", Amount: 100}
	require.NoError(t, a.OnEdit(context.Background(), 1, f, f))
	assert.Empty(t, store.deltas)
}

func TestOnEdit_BucketChangeIsDeleteThenAdd(t *testing.T) {
	cases := map[string]TxFields{
		"跨月":   {Period: july, From: "A", To: "B", Amount: 100},
		"方向反转": {Period: june, From: "B", To: "A", Amount: 100},
		"换成员":  {Period: june, From: "A", To: "C", Amount: 100},
	}
	old := TxFields{Period: june, From: "A", To: "B", Amount: 100}

	for name, updated := range cases {
		t.Run(name, func(t *testing.T) {
			store := &recordingStore{}
			a := NewAggregator(store)
			require.NoError(t, a.OnEdit(context.Background(), 1, old, updated))

			require.Len(t, store.deltas, 2)
			assert.Equal(t, old.Period, store.deltas[0].Period)
			assert.Equal(t, int64(-1), store.deltas[0].TxCount)
			assert.Equal(t, updated.Period, store.deltas[1].Period)
			assert.Equal(t, int64(1), store.deltas[1].TxCount)
		})
	}
}

func TestOnDelete_IsInverseOfOnAdd(t *testing.T) {
	store := &recordingStore{}
	a := NewAggregator(store)
	f := TxFields{Period: june, From: "A", To: "B", Amount: 42}

	require.NoError(t, a.OnAdd(context.Background(), 1, f))
	require.NoError(t, a.OnDelete(context.Background(), 1, f))

	require.Len(t, store.deltas, 2)
	assert.Equal(t, store.deltas[0].Negate(), store.deltas[1])
}

func TestOnAdd_WrapsStoreError(t *testing.T) {
	a := NewAggregator(failingStore{})
	err := a.OnAdd(context.Background(), 1, TxFields{Period: june, From: "A", To: "B", Amount: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2025-06")
}
