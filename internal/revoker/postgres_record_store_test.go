package revoker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/sentinel/internal/testutil"
)

func pgRecord(approvalID, txHash string) *Record {
	return &Record{
		ApprovalID:  approvalID,
		Owner:       "0xaaa0000000000000000000000000000000000001",
		Token:       "0xbbb0000000000000000000000000000000000002",
		Spender:     "0xccc0000000000000000000000000000000000003",
		TxHash:      txHash,
		Strategy:    "selffunded",
		Status:      StatusPending,
		SubmittedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPostgresRecordStore_CreateAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresRecordStore(db)
	ctx := context.Background()

	rec := pgRecord("10143-1-0", "0xdead")
	require.NoError(t, store.Create(ctx, rec))

	got, err := store.Get(ctx, "10143-1-0")
	require.NoError(t, err)
	assert.Equal(t, rec.TxHash, got.TxHash)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.ConfirmedAt)
}

func TestPostgresRecordStore_CreateUpsertsOnRetry(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresRecordStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pgRecord("10143-1-0", "0xfirst")))

	// A retried submission reuses the approval ID with a fresh tx hash.
	require.NoError(t, store.Create(ctx, pgRecord("10143-1-0", "0xsecond")))

	got, err := store.Get(ctx, "10143-1-0")
	require.NoError(t, err)
	assert.Equal(t, "0xsecond", got.TxHash)
	assert.Equal(t, StatusPending, got.Status)
}

func TestPostgresRecordStore_UpdateStatus(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresRecordStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, pgRecord("10143-1-0", "0xdead")))

	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.UpdateStatus(ctx, "10143-1-0", StatusConfirmed, &now))

	got, err := store.Get(ctx, "10143-1-0")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedAt)
	assert.WithinDuration(t, now, *got.ConfirmedAt, time.Second)

	assert.ErrorIs(t, store.UpdateStatus(ctx, "missing", StatusFailed, nil), ErrRecordNotFound)
}

func TestPostgresRecordStore_ListByOwner(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresRecordStore(db)
	ctx := context.Background()

	first := pgRecord("10143-1-0", "0x01")
	second := pgRecord("10143-2-0", "0x02")
	second.SubmittedAt = first.SubmittedAt.Add(time.Minute)
	other := pgRecord("10143-3-0", "0x03")
	other.Owner = "0xddd0000000000000000000000000000000000004"

	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))
	require.NoError(t, store.Create(ctx, other))

	records, err := store.ListByOwner(ctx, first.Owner, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Newest first.
	assert.Equal(t, "10143-2-0", records[0].ApprovalID)
	assert.Equal(t, "10143-1-0", records[1].ApprovalID)
}
