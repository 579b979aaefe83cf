package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gellingson/carbyr/internal/domain/listings"
)

func TestAnchorRepository(t *testing.T) {
	pool, _ := setupPostgres(t)
	ctx := context.Background()
	repo, err := NewRepository(pool)
	require.NoError(t, err)
	anchors := repo.Anchors()

	anchor, err := anchors.GetAnchor(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, anchor, "never polled")

	require.NoError(t, anchors.SetAnchor(ctx, 7, "1000"))
	require.NoError(t, anchors.SetAnchor(ctx, 7, "2000"))

	anchor, err = anchors.GetAnchor(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "2000", anchor)
}

func TestZipcodeRepository(t *testing.T) {
	pool, _ := setupPostgres(t)
	ctx := context.Background()
	repo, err := NewRepository(pool)
	require.NoError(t, err)
	zips := repo.Zipcodes()

	_, err = zips.GetZipcode(ctx, "94110")
	assert.True(t, errors.Is(err, listings.ErrNotFound))

	table := listings.Zipcode{Zip: "94110", City: "San Francisco", StateCode: "CA", Lat: 37.75, Lon: -122.41}
	require.NoError(t, zips.SaveZipcode(ctx, table, ZipOriginTable))

	// A geocoder answer never replaces a reference row.
	require.NoError(t, zips.SaveZipcode(ctx, listings.Zipcode{
		Zip: "94110", City: "Somewhere", StateCode: "CA", Lat: 1, Lon: 1,
	}, ZipOriginNominatim))

	got, err := zips.GetZipcode(ctx, "94110")
	require.NoError(t, err)
	assert.Equal(t, table, got)
	assert.Equal(t, "San Francisco, CA", got.LocationText())
}

func TestRefDataRepository(t *testing.T) {
	pool, _ := setupPostgres(t)
	ctx := context.Background()
	repo, err := NewRepository(pool)
	require.NoError(t, err)
	rd := repo.RefData()

	makeID, err := rd.UpsertMake(ctx, listings.Make{NonCanonical: "Merc", Canonical: "Mercedes-Benz", Consume: []string{"Benz"}})
	require.NoError(t, err)
	_, err = rd.UpsertModel(ctx, listings.Model{MakeID: makeID, Make: "Mercedes-Benz", NonCanonical: "SL 500", Canonical: "SL500"})
	require.NoError(t, err)
	_, err = rd.UpsertModel(ctx, listings.Model{Make: "Porsche", NonCanonical: "911", Canonical: "911"})
	require.NoError(t, err)

	makes, err := rd.LoadMakes(ctx)
	require.NoError(t, err)
	require.Len(t, makes, 1)
	assert.Equal(t, "Mercedes-Benz", makes[0].Canonical)
	assert.Equal(t, []string{"Benz"}, makes[0].Consume)
	assert.Empty(t, makes[0].Push)

	models, err := rd.LoadModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, makeID, models[0].MakeID)
	assert.Zero(t, models[1].MakeID)

	cache := listings.NewRefDataCache(rd)
	require.NoError(t, cache.Reload(ctx))
	m, ok := cache.Current().LookupMake("merc")
	require.True(t, ok)
	assert.Equal(t, "Mercedes-Benz", m.Canonical)
}

func TestImportLogRepository(t *testing.T) {
	pool, _ := setupPostgres(t)
	ctx := context.Background()
	repo, err := NewRepository(pool)
	require.NoError(t, err)
	log := repo.ImportLog()

	started := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i, fetched := range []int{10, 20} {
		report := listings.NewImportReport("run", "craig", started)
		report.FinishedAt = started.Add(time.Duration(i+1) * time.Minute)
		report.Fetched = fetched
		report.Accepted = fetched - 1
		report.Rejected = 1
		report.Counters.Inc(listings.CounterBadPrice)
		require.NoError(t, log.RecordImport(ctx, listings.SourceClassified, 1, report))
	}

	entries, err := log.Recent(ctx, listings.SourceClassified, 1, 5)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 20, entries[0].Fetched)
	assert.Equal(t, 1, entries[0].Counters[listings.CounterBadPrice])
	assert.Contains(t, entries[0].Message, "fetched 20")
}
