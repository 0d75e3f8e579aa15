package pagination

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type row struct {
	ID        string
	UpdatedAt time.Time
}

func rowKey(r row) Cursor {
	return Cursor{PrimaryKey: r.UpdatedAt, ID: r.ID}
}

// list mirrors the SQL produced by Scope over an in-memory snapshot.
func list(t *testing.T, rows []row, token string, limit int) Page[row] {
	t.Helper()
	require.NoError(t, ValidateLimit(limit))
	cursor, err := Decode(token)
	require.NoError(t, err)

	sorted := append([]row(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].UpdatedAt.Equal(sorted[j].UpdatedAt) {
			return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
		}
		return sorted[i].ID > sorted[j].ID
	})

	var out []row
	for _, r := range sorted {
		if !Before(r.UpdatedAt, r.ID, cursor) {
			continue
		}
		out = append(out, r)
		if len(out) == limit+1 {
			break
		}
	}
	return Finalize(out, limit, rowKey)
}

func fiveRows() []row {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]row, 0, 5)
	for i := 1; i <= 5; i++ {
		rows = append(rows, row{ID: fmt.Sprintf("r%d", i), UpdatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	return rows
}

func ids(rows []row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}

func TestFiveRowsTwoPerPage(t *testing.T) {
	rows := fiveRows()

	page1 := list(t, rows, "", 2)
	require.Equal(t, []string{"r5", "r4"}, ids(page1.Items))
	require.NotNil(t, page1.NextCursor)
	c1, err := Decode(*page1.NextCursor)
	require.NoError(t, err)
	require.Equal(t, "r4", c1.ID)
	require.True(t, c1.PrimaryKey.Equal(rows[3].UpdatedAt))

	page2 := list(t, rows, *page1.NextCursor, 2)
	require.Equal(t, []string{"r3", "r2"}, ids(page2.Items))
	require.NotNil(t, page2.NextCursor)

	page3 := list(t, rows, *page2.NextCursor, 2)
	require.Equal(t, []string{"r1"}, ids(page3.Items))
	require.Nil(t, page3.NextCursor)
}

func TestEmptyResult(t *testing.T) {
	page := list(t, nil, "", 10)
	require.NotNil(t, page.Items)
	require.Empty(t, page.Items)
	require.Nil(t, page.NextCursor)
}

func TestExactlyLimitRowsHasNoCursor(t *testing.T) {
	page := list(t, fiveRows(), "", 5)
	require.Len(t, page.Items, 5)
	require.Nil(t, page.NextCursor)
}

func TestFollowingCursorsVisitsEveryRowOnce(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	var rows []row
	// duplicate primary keys force the id tie-break
	for i := 0; i < 23; i++ {
		rows = append(rows, row{ID: fmt.Sprintf("id-%02d", i), UpdatedAt: base.Add(time.Duration(i/4) * time.Second)})
	}

	for limit := 1; limit <= 7; limit++ {
		var seen []string
		token := ""
		for {
			page := list(t, rows, token, limit)
			seen = append(seen, ids(page.Items)...)
			if page.NextCursor == nil {
				break
			}
			token = *page.NextCursor
		}
		require.Len(t, seen, len(rows), "limit %d", limit)

		unique := map[string]bool{}
		for _, id := range seen {
			require.False(t, unique[id], "duplicate %s at limit %d", id, limit)
			unique[id] = true
		}
	}
}

func TestInsertsAheadOfCursorDoNotShiftPages(t *testing.T) {
	rows := fiveRows()
	page1 := list(t, rows, "", 2)

	rows = append(rows, row{ID: "r6", UpdatedAt: rows[4].UpdatedAt.Add(time.Hour)})
	page2 := list(t, rows, *page1.NextCursor, 2)
	require.Equal(t, []string{"r3", "r2"}, ids(page2.Items))
}

func TestCursorReissueIsIdempotent(t *testing.T) {
	rows := fiveRows()
	page1 := list(t, rows, "", 2)

	first := list(t, rows, *page1.NextCursor, 2)
	second := list(t, rows, *page1.NextCursor, 2)
	require.Equal(t, first, second)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode("not base64!!")
	require.ErrorIs(t, err, ErrInvalidCursor)

	_, err = Decode("e30")
	require.ErrorIs(t, err, ErrInvalidCursor)

	c, err := Decode("")
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestParseLimit(t *testing.T) {
	limit, err := ParseLimit("")
	require.NoError(t, err)
	require.Equal(t, DefaultLimit, limit)

	limit, err = ParseLimit("7")
	require.NoError(t, err)
	require.Equal(t, 7, limit)

	for _, raw := range []string{"0", "-1", "101", "abc"} {
		_, err := ParseLimit(raw)
		require.ErrorIs(t, err, ErrInvalidLimit, raw)
	}
}
