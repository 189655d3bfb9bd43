package service

import (
	"testing"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelease_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.deposit(testWallet, "1000")
	res, err := f.subscribe(testWallet, f.balanced, f.term30, "600")
	require.NoError(t, err)
	subID := res.Subscription.ID

	release := func(id uuid.UUID, amount string) domain.ReleaseOutcome {
		var out domain.ReleaseOutcome
		require.NoError(t, f.store.InTx(f.ctx, func(q repository.Queries) error {
			var err error
			out, err = f.reservations.Release(f.ctx, q, testWallet, id, dec(amount), "")
			return err
		}))
		return out
	}

	assert.Equal(t, domain.ReleaseSkippedNoEntry, release(uuid.New(), "100"))
	assert.Equal(t, domain.ReleaseReleased, release(subID, "600"))
	assert.Equal(t, domain.ReleaseSkippedRepeat, release(subID, "600"))

	entries := f.store.ReservationEntries(subID)
	require.Len(t, entries, 2)
	rel := entries[1]
	assert.Equal(t, domain.ReleaseKey(subID), rel.IdempotencyKey)
	assert.Equal(t, domain.NoteSubscriptionSettled, rel.Note)
}

func TestRelease_CappedAtReservedBalance(t *testing.T) {
	f := newFixture(t)
	f.deposit(testWallet, "1000")
	res, err := f.subscribe(testWallet, f.balanced, f.term30, "500")
	require.NoError(t, err)

	require.NoError(t, f.store.InTx(f.ctx, func(q repository.Queries) error {
		_, err := f.reservations.Release(f.ctx, q, testWallet, res.Subscription.ID, dec("900"), "")
		return err
	}))
	entries := f.store.ReservationEntries(res.Subscription.ID)
	require.Len(t, entries, 2)
	assert.True(t, entries[1].Amount.Equal(dec("500")))
}
