package skiplog

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkhlop/nist-news-trec/internal/module/embedding/domain"
)

func TestNewRecorder_Disabled(t *testing.T) {
	r, err := NewRecorder("", "run-1", nil)
	require.NoError(t, err)
	defer r.Close()

	assert.False(t, r.enabled)
	assert.Empty(t, r.Path())
	assert.NoError(t, r.RecordSkip(domain.SkipRecord{DocumentID: "a"}))
}

func TestRecorder_RecordSkip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "skips")
	r, err := NewRecorder(dir, "run-1", nil)
	require.NoError(t, err)

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	require.NoError(t, r.RecordSkip(domain.SkipRecord{
		DocumentID: "doc-1",
		Reason:     domain.SkipReasonModel,
		Batch:      3,
		Err:        errors.New("model crashed"),
	}))
	require.NoError(t, r.RecordSkip(domain.SkipRecord{
		DocumentID: "line:7",
		Reason:     domain.SkipReasonInvalidRecord,
		Batch:      -1,
	}))
	require.NoError(t, r.Close())

	assert.True(t, strings.HasPrefix(filepath.Base(r.Path()), "skipped_"))

	f, err := os.Open(r.Path())
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, entries, 2)
	assert.Equal(t, Entry{
		Timestamp:    fixed,
		RunID:        "run-1",
		DocumentID:   "doc-1",
		Reason:       "model_error",
		Batch:        3,
		ErrorMessage: "model crashed",
	}, entries[0])
	assert.Equal(t, "line:7", entries[1].DocumentID)
	assert.Empty(t, entries[1].ErrorMessage)
}

func TestRecorder_Concurrent(t *testing.T) {
	r, err := NewRecorder(t.TempDir(), "run-2", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.RecordSkip(domain.SkipRecord{DocumentID: "d", Reason: domain.SkipReasonModel}))
		}()
	}
	wg.Wait()
	require.NoError(t, r.Close())

	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	assert.Equal(t, 20, strings.Count(string(data), "\n"))
}
