package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/datareturn/internal/openhumans"
)

func TestAddRecord_FillsIDAndTimestamp(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	rec, err := s.AddRecord(context.Background(), KindFile, Record{
		UserID: "alice", Name: "genome.vcf", URL: "https://files/genome", Description: "raw calls",
	})
	require.NoError(t, err)

	assert.Positive(t, rec.ID)
	assert.True(t, rec.CreatedAt.Equal(testNow))
}

func TestListRecords_KindsAreSeparate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddRecord(ctx, KindFile, Record{UserID: "alice", Name: "a.csv", URL: "u1"})
	require.NoError(t, err)
	_, err = s.AddRecord(ctx, KindLink, Record{UserID: "alice", Name: "Diary", URL: "u2"})
	require.NoError(t, err)
	_, err = s.AddRecord(ctx, KindFile, Record{UserID: "bob", Name: "b.csv", URL: "u3"})
	require.NoError(t, err)

	files, err := s.ListRecords(ctx, KindFile, "alice")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.csv", files[0].Name)

	links, err := s.ListRecords(ctx, KindLink, "alice")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "Diary", links[0].Name)
	assert.True(t, links[0].CreatedAt.Equal(testNow))
}

func TestDeleteRecord_ScopedToOwner(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.AddRecord(ctx, KindLink, Record{UserID: "alice", Name: "x", URL: "u"})
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteRecord(ctx, KindLink, "bob", rec.ID), ErrNotFound)
	assert.ErrorIs(t, s.DeleteRecord(ctx, KindFile, "alice", rec.ID), ErrNotFound)

	require.NoError(t, s.DeleteRecord(ctx, KindLink, "alice", rec.ID))

	links, err := s.ListRecords(ctx, KindLink, "alice")
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestExportRecords_InsertionOrder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for i, name := range []string{"report.pdf", "other.pdf", "report.pdf"} {
		s.nowFunc = func() time.Time { return testNow.Add(time.Duration(i) * time.Second) }

		_, err := s.AddRecord(ctx, KindFile, Record{UserID: "alice", Name: name, URL: name + "-url-" + string(rune('a'+i))})
		require.NoError(t, err)
	}

	files, err := s.ExportFiles(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []openhumans.NamedURL{
		{Name: "report.pdf", URL: "report.pdf-url-a"},
		{Name: "other.pdf", URL: "other.pdf-url-b"},
		{Name: "report.pdf", URL: "report.pdf-url-c"},
	}, files)

	// Insertion order feeds BuildPayload, so the later duplicate wins.
	p := openhumans.BuildPayload(openhumans.Pairs(files), nil)
	assert.Equal(t, "report.pdf-url-c", p.Files["report.pdf"])

	links, err := s.ExportLinks(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "file", KindFile.String())
	assert.Equal(t, "link", KindLink.String())
}
