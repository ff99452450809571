package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"walletlend/core/types"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open("sqlite", filepath.Join(t.TempDir(), "journal.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j.SetNowFunc(func() time.Time { return fixed })
	return j
}

func event(kind, wallet string) *types.Event {
	return &types.Event{Type: kind, Attributes: map[string]string{"wallet": wallet, "amount": "10"}}
}

func TestEmitPersistsAndLists(t *testing.T) {
	t.Parallel()
	j := openTest(t)
	j.Emit(event("moneymarket.loan.opened", "0xaa"))
	j.Emit(event("moneymarket.debt.added", "0xaa"))
	j.Emit(event("moneymarket.loan.opened", "0xbb"))

	all, err := j.List(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Less(t, all[0].Seq, all[1].Seq)
	require.Equal(t, "10", all[0].Attributes["amount"])
	require.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), all[0].CreatedAt.UTC())

	byWallet, err := j.List(context.Background(), Query{Wallet: "0xaa"})
	require.NoError(t, err)
	require.Len(t, byWallet, 2)

	byType, err := j.List(context.Background(), Query{Type: "moneymarket.loan.opened", AfterSeq: all[0].Seq})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	require.Equal(t, "0xbb", byType[0].Wallet)

	limited, err := j.List(context.Background(), Query{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestSubscribeReceivesEntries(t *testing.T) {
	t.Parallel()
	j := openTest(t)
	ch, cancel := j.Subscribe(1)
	j.Emit(event("moneymarket.loan.closed", "0xaa"))
	j.Emit(event("moneymarket.loan.closed", "0xaa"))

	got := <-ch
	require.Equal(t, "moneymarket.loan.closed", got.Type)
	cancel()
	cancel()
	_, open := <-ch
	require.False(t, open)
}

func TestOpenRejectsDriver(t *testing.T) {
	t.Parallel()
	_, err := Open("mysql", "", nil)
	require.ErrorIs(t, err, ErrUnknownDriver)
}
