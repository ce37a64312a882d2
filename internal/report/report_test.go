package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactnet/internal/scoring"
)

func scoredRecord(t *testing.T) scoring.Record {
	t.Helper()
	rec, err := scoring.Score([]scoring.Result{{
		Losses: []float64{0.4, 0.1},
		Labels: [][]float64{{1, 0}, {0, 0}, {1, 0}},
		Preds:  [][]float64{{0.8, 0.2}, {0.3, 0.1}, {0.4, 0.6}},
	}})
	require.NoError(t, err)
	return rec
}

func TestRowsFollowRecord(t *testing.T) {
	rec := scoredRecord(t)
	rows, err := Rows([]string{"nucleic", "ion"}, rec)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "nucleic", rows[0].Class)
	assert.Equal(t, 0.4, rows[0].Loss)
	assert.Equal(t, rec.Metric("acc", 0), rows[0].Acc)
	assert.Equal(t, rec.Metric("auc", 0), rows[0].AUC)
	assert.True(t, math.IsNaN(rows[1].TPR))
	assert.True(t, math.IsNaN(rows[0].F1))

	_, err = Rows([]string{"only"}, rec)
	require.Error(t, err)
}

func TestCSVRoundTrip(t *testing.T) {
	rows, err := Rows([]string{"nucleic", "ion"}, scoredRecord(t))
	require.NoError(t, err)
	rows[0].N, rows[0].F1, rows[0].R = 3, 0.67, 2.0/3

	path := filepath.Join(t.TempDir(), "scores.csv")
	require.NoError(t, WriteFile(path, rows))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err := ReadCSV(f)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rows[0], got[0])
	assert.Equal(t, "ion", got[1].Class)
	assert.True(t, math.IsNaN(got[1].TPR))
}

func TestRender(t *testing.T) {
	rows, err := Rows([]string{"nucleic", "ion"}, scoredRecord(t))
	require.NoError(t, err)
	rows[0].F1 = 0.5

	var buf bytes.Buffer
	Render(&buf, rows)
	out := buf.String()
	assert.Contains(t, out, "class")
	assert.Contains(t, out, "nucleic")
	assert.Contains(t, out, "0.50")
	assert.Equal(t, 1, strings.Count(out, "nucleic"))
	assert.Contains(t, out, " - ")
}
