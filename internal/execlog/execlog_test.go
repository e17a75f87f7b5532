package execlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fusionbot/internal/domain"
)

func rec(id string) domain.ExecutionRecord {
	return domain.ExecutionRecord{ID: id, Timestamp: time.Now()}
}

func TestRecent_ReturnsTail(t *testing.T) {
	l := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		l.Append(rec(id))
	}

	got := l.Recent(2)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "d", got[1].ID)

	assert.Len(t, l.Recent(0), 4)
	assert.Len(t, l.Recent(100), 4)
	assert.Equal(t, "d", l.NewestFirst(1)[0].ID)
}

func TestRecent_ReturnsCopy(t *testing.T) {
	l := New()
	l.Append(rec("a"))
	got := l.Recent(1)
	got[0].ID = "mutated"
	assert.Equal(t, "a", l.Recent(1)[0].ID)
}

func TestRecent_Empty(t *testing.T) {
	assert.Empty(t, New().Recent(10))
}

type fakeStore struct {
	domain.ExecutionStore
	recs []domain.ExecutionRecord
	err  error
}

func (f *fakeStore) ListRecent(_ context.Context, limit int) ([]domain.ExecutionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.recs) {
		return f.recs[:limit], nil
	}
	return f.recs, nil
}

func TestHydrate_RestoresChronologicalOrder(t *testing.T) {
	store := &fakeStore{recs: []domain.ExecutionRecord{rec("new"), rec("mid"), rec("old")}}
	l := New()
	l.Append(rec("live"))

	n, err := l.Hydrate(context.Background(), store, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var ids []string
	for _, r := range l.Recent(0) {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"old", "mid", "new", "live"}, ids)
}

func TestHydrate_StoreError(t *testing.T) {
	l := New()
	_, err := l.Hydrate(context.Background(), &fakeStore{err: errors.New("down")}, 10)
	require.Error(t, err)
	assert.Zero(t, l.Len())
}
