package journal

import (
	"errors"
	"testing"
	"time"

	"github.com/nathanyu/matching-core/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trade(seq uint64, qty int64) domain.Trade {
	return domain.Trade{
		TradeID:    "t",
		Symbol:     "AAPL",
		Price:      10010,
		Quantity:   qty,
		Taker:      domain.OrderSnapshot{OrderID: "b1", Side: domain.SideBuy},
		Maker:      domain.OrderSnapshot{OrderID: "s1", Side: domain.SideSell},
		Timestamp:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		SequenceID: seq,
	}
}

func openJournal(t *testing.T, dir string) *Journal {
	t.Helper()
	j, err := Open(dir)
	require.NoError(t, err)
	return j
}

func TestJournal_AppendAndReplay(t *testing.T) {
	j := openJournal(t, t.TempDir())
	defer j.Close()

	// 256 sorts after 2 only with a big-endian key
	require.NoError(t, j.AppendBatch([]domain.Trade{trade(256, 3)}))
	require.NoError(t, j.AppendBatch([]domain.Trade{trade(1, 1), trade(2, 2)}))

	var seqs []uint64
	require.NoError(t, j.Replay(0, func(tr domain.Trade) error {
		seqs = append(seqs, tr.SequenceID)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2, 256}, seqs)

	seqs = nil
	require.NoError(t, j.Replay(1, func(tr domain.Trade) error {
		seqs = append(seqs, tr.SequenceID)
		return nil
	}))
	assert.Equal(t, []uint64{2, 256}, seqs)

	last, err := j.LastSequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(256), last)
}

func TestJournal_RoundTripsTrade(t *testing.T) {
	j := openJournal(t, t.TempDir())
	defer j.Close()

	want := trade(7, 42)
	require.NoError(t, j.AppendBatch([]domain.Trade{want}))

	var got []domain.Trade
	require.NoError(t, j.Replay(0, func(tr domain.Trade) error {
		got = append(got, tr)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0])
}

func TestJournal_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	j := openJournal(t, dir)
	require.NoError(t, j.AppendBatch([]domain.Trade{trade(5, 1)}))
	require.NoError(t, j.Close())

	j = openJournal(t, dir)
	defer j.Close()
	last, err := j.LastSequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), last)
}

func TestJournal_Empty(t *testing.T) {
	j := openJournal(t, t.TempDir())
	defer j.Close()

	last, err := j.LastSequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), last)
	assert.NoError(t, j.AppendBatch(nil))
}

func TestJournal_RejectsUnsequencedBatch(t *testing.T) {
	j := openJournal(t, t.TempDir())
	defer j.Close()

	err := j.AppendBatch([]domain.Trade{trade(1, 1), trade(0, 1)})
	assert.ErrorIs(t, err, ErrNoSequence)

	last, err := j.LastSequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), last, "batch is all or nothing")
}

func TestJournal_ReplayStopsOnError(t *testing.T) {
	j := openJournal(t, t.TempDir())
	defer j.Close()
	require.NoError(t, j.AppendBatch([]domain.Trade{trade(1, 1), trade(2, 1)}))

	stop := errors.New("stop")
	calls := 0
	err := j.Replay(0, func(domain.Trade) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}
