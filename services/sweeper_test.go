package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rental-crawler/models"
	"rental-crawler/storage"
)

func TestSweeperDeactivatesOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	gone := models.ListingRecord{Platform: models.PlatformWGGesucht, ExternalID: "1", URL: "https://x/1"}
	kept := models.ListingRecord{Platform: models.PlatformWGGesucht, ExternalID: "2", URL: "https://x/2"}
	for _, rec := range []*models.ListingRecord{&gone, &kept} {
		_, err := store.Upsert(ctx, rec)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := store.MarkMissed(ctx, models.PlatformWGGesucht, time.Now().Add(time.Hour))
		require.NoError(t, err)
	}
	again := kept
	_, err := store.Upsert(ctx, &again)
	require.NoError(t, err)

	sw := NewSweeper(store, storage.SweepPolicy{Platform: models.PlatformWGGesucht, MissedPasses: 3}, newTestLogger())
	ids, err := sw.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{gone.ID}, ids)

	ids, err = sw.Run(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	active, err := store.List(ctx, storage.ListingQuery{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "2", active[0].ExternalID)
}
