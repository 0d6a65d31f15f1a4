package main

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := openAndInitDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestJournalInsertAndGet(t *testing.T) {
	db := openTestDB(t)

	e := &EmbedEntry{
		RequestID:  "r-1",
		Source:     "https://example.com/a.jpg",
		InputHash:  "in",
		OutputHash: "out",
		Size:       123,
		Fields:     json.RawMessage(`{"title":"T"}`),
		Enriched:   true,
		ArchiveKey: "embedded/2024/01/x.jpg",
		Status:     statusOK,
	}
	id, err := db.insertEmbed(e)
	require.NoError(t, err)
	assert.Equal(t, id, e.ID)

	got, err := db.getEmbed(id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "r-1", got.RequestID)
	assert.JSONEq(t, `{"title":"T"}`, string(got.Fields))
	assert.True(t, got.Enriched)
	assert.Equal(t, "embedded/2024/01/x.jpg", got.ArchiveKey)
	assert.Equal(t, "", got.Error)
	assert.NotEmpty(t, got.CreatedAt)

	missing, err := db.getEmbed(id + 100)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestJournalListAndClear(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 5; i++ {
		_, err := db.insertEmbed(&EmbedEntry{RequestID: string(rune('a' + i)), Status: statusFailed, Error: "boom"})
		require.NoError(t, err)
	}

	rows, err := db.listEmbeds(0, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "e", rows[0].RequestID, "newest first")
	assert.Equal(t, "boom", rows[0].Error)
	assert.JSONEq(t, `{}`, string(rows[0].Fields))

	rows, err = db.listEmbeds(4, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].RequestID)

	require.NoError(t, db.clearDBTables())
	rows, err = db.listEmbeds(0, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestJournalFindEmbedded(t *testing.T) {
	db := openTestDB(t)
	fields := []byte(`{"title":"T"}`)

	_, err := db.insertEmbed(&EmbedEntry{RequestID: "1", InputHash: "h", Fields: fields, Status: statusFailed})
	require.NoError(t, err)
	found, err := db.findEmbedded("h", fields)
	require.NoError(t, err)
	assert.False(t, found, "failed entries do not count")

	_, err = db.insertEmbed(&EmbedEntry{RequestID: "2", InputHash: "h", Fields: fields, Status: statusOK})
	require.NoError(t, err)
	found, err = db.findEmbedded("h", fields)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = db.findEmbedded("h", []byte(`{"title":"other"}`))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOpenAndInitDBIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := openAndInitDB(path)
	require.NoError(t, err)
	_, err = db.insertEmbed(&EmbedEntry{RequestID: "1", Status: statusOK})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = openAndInitDB(path)
	require.NoError(t, err)
	defer db.Close()
	rows, err := db.listEmbeds(0, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
