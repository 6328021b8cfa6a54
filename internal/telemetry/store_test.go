package telemetry

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cfi-labs/boardgen/internal/domain"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu   sync.Mutex
	rows []domain.SessionSummary
}

func (r *recordingSink) InsertSessionSummary(_ context.Context, s domain.SessionSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, s)
	return nil
}

func newTestStore(t *testing.T, maxBytes int64) (*Store, *fakeClock, string) {
	t.Helper()
	dir := t.TempDir()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	s, err := NewStore(Options{
		Dir:         dir,
		MaxBytes:    maxBytes,
		IdleTimeout: 30 * time.Minute,
		Now:         clock.Now,
	})
	require.NoError(t, err)
	return s, clock, dir
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func readNDJSON(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestRepeatedPreviewRequestsShareOneSession(t *testing.T) {
	s, clock, _ := newTestStore(t, 1<<20)

	s.RecordPreviewRequest("sess-1", "dana", "לוח פירות", nil)
	clock.Advance(time.Minute)
	s.RecordPreviewRequest("sess-1", "", "עם תפוח", nil)

	assert.Equal(t, 1, s.Len())
	snap, ok := s.Snapshot("sess-1")
	require.True(t, ok)
	assert.Equal(t, 2, snap.TotalRequests)
	assert.Equal(t, "לוח פירות", snap.FirstPrompt)
	assert.Equal(t, "dana", snap.UserName)
	assert.Len(t, snap.Conversation, 2)
}

func TestHistoryReplayedOnlyOnCreate(t *testing.T) {
	s, _, _ := newTestStore(t, 1<<20)
	history := []domain.HistoryMessage{
		{Role: "user", Text: "שלום", Timestamp: "2026-10-19T08:00:00Z"},
		{Role: "agent", Text: "במה אפשר לעזור?"},
	}

	s.RecordPreviewRequest("sess-h", "", "פירות", history)
	s.RecordPreviewRequest("sess-h", "", "ירקות", history)

	snap, ok := s.Snapshot("sess-h")
	require.True(t, ok)
	require.Len(t, snap.Conversation, 4)
	assert.Equal(t, "history", snap.Conversation[0].Source)
	assert.Equal(t, time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC), snap.Conversation[0].Timestamp)
	assert.Equal(t, "user_request", snap.Conversation[2].Source)
	assert.Equal(t, "user_request", snap.Conversation[3].Source)
}

func TestIdleSessionFlushedBeforeNewRequest(t *testing.T) {
	s, clock, dir := newTestStore(t, 1<<20)

	s.RecordPreviewRequest("old", "", "first", nil)
	clock.Advance(31 * time.Minute)
	s.RecordPreviewRequest("new", "", "second", nil)

	_, stillLive := s.Snapshot("old")
	assert.False(t, stillLive)
	assert.Equal(t, 1, s.Len())

	rows := readCSV(t, filepath.Join(dir, SummaryFileName))
	require.Len(t, rows, 2)
	assert.Equal(t, summaryHeaders, rows[0])
	assert.Equal(t, "old", rows[1][0])
	assert.Equal(t, "first", rows[1][6])
}

func TestSessionWithinIdleWindowIsKept(t *testing.T) {
	s, clock, dir := newTestStore(t, 1<<20)

	s.RecordPreviewRequest("a", "", "first", nil)
	clock.Advance(10 * time.Minute)
	s.RecordPreviewRequest("b", "", "second", nil)

	assert.Equal(t, 2, s.Len())
	_, err := os.Stat(filepath.Join(dir, SummaryFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestFinalizeThenRecordStartsFreshSession(t *testing.T) {
	s, _, dir := newTestStore(t, 1<<20)

	s.RecordPreviewRequest("sess-f", "", "first", nil)
	s.RecordGenerateStart("sess-f", 3)
	require.True(t, s.Finalize("sess-f"))
	assert.False(t, s.Finalize("sess-f"))

	s.RecordGenerateStart("sess-f", 2)
	snap, ok := s.Snapshot("sess-f")
	require.True(t, ok)
	assert.Equal(t, 0, snap.TotalRequests)
	assert.Equal(t, 2, snap.ImagesRequested)
	assert.Empty(t, snap.FirstPrompt)

	details := readNDJSON(t, filepath.Join(dir, DetailFileName))
	require.Len(t, details, 1)
	assert.Equal(t, "sess-f", details[0]["session_id"])
	assert.Equal(t, float64(3), details[0]["images_requested"])
}

func TestImagesCreatedNeverExceedsRequested(t *testing.T) {
	s, _, _ := newTestStore(t, 1<<20)

	s.RecordGenerateSuccess("orphan", []string{"a.png", "b.png"}, "board.png", "board.pdf")

	snap, ok := s.Snapshot("orphan")
	require.True(t, ok)
	assert.Equal(t, 2, snap.ImagesCreated)
	assert.GreaterOrEqual(t, snap.ImagesRequested, snap.ImagesCreated)
}

func TestRecordErrorFlagsSession(t *testing.T) {
	s, _, dir := newTestStore(t, 1<<20)

	s.RecordError("sess-e", "generate", "boom")
	snap, ok := s.Snapshot("sess-e")
	require.True(t, ok)
	assert.True(t, snap.HadError)
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, "generate", snap.Errors[0].Stage)

	s.Finalize("sess-e")
	rows := readCSV(t, filepath.Join(dir, SummaryFileName))
	assert.Equal(t, "true", rows[1][10])
}

func TestFeedbackForUnknownSession(t *testing.T) {
	s, _, dir := newTestStore(t, 1<<20)

	require.NoError(t, s.RecordFeedback("never-seen", 4, "  עזר מאוד  "))

	rows := readCSV(t, filepath.Join(dir, FeedbackFileName))
	require.Len(t, rows, 2)
	assert.Equal(t, feedbackHeaders, rows[0])
	assert.Equal(t, []string{"never-seen", "4", "עזר מאוד"}, rows[1][1:])

	details := readNDJSON(t, filepath.Join(dir, DetailFileName))
	require.Len(t, details, 1)
	assert.Equal(t, "user_feedback", details[0]["event"])
	assert.Equal(t, 0, s.Len())
}

func TestFeedbackValidation(t *testing.T) {
	s, _, _ := newTestStore(t, 1<<20)

	assert.ErrorIs(t, s.RecordFeedback("x", 0, ""), ErrInvalidRating)
	assert.ErrorIs(t, s.RecordFeedback("x", 6, ""), ErrInvalidRating)
	assert.ErrorIs(t, s.RecordFeedback("x", 3, strings.Repeat("א", MaxCommentLength+1)), ErrCommentTooLong)
}

func TestRotationArchivesFullFile(t *testing.T) {
	s, clock, dir := newTestStore(t, 64)

	s.RecordPreviewRequest("one", "", "first prompt", nil)
	s.Finalize("one")
	clock.Advance(time.Second)
	s.RecordPreviewRequest("two", "", "second prompt", nil)
	s.Finalize("two")

	rows := readCSV(t, filepath.Join(dir, SummaryFileName))
	require.Len(t, rows, 2)
	assert.Equal(t, "two", rows[1][0])

	archives, err := filepath.Glob(filepath.Join(dir, SummaryFileName+".*.zst"))
	require.NoError(t, err)
	require.Len(t, archives, 1)

	f, err := os.Open(archives[0])
	require.NoError(t, err)
	defer f.Close()
	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()
	data, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Contains(t, string(data), "first prompt")
	assert.True(t, strings.HasPrefix(string(data), "session_id,"))
}

func TestRotationDeleteMode(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(Options{Dir: dir, MaxBytes: 64, Rotation: RotateDelete})
	require.NoError(t, err)

	s.RecordPreviewRequest("one", "", "first prompt", nil)
	s.Finalize("one")
	s.RecordPreviewRequest("two", "", "second prompt", nil)
	s.Finalize("two")

	rows := readCSV(t, filepath.Join(dir, SummaryFileName))
	require.Len(t, rows, 2)
	assert.Equal(t, "two", rows[1][0])

	archives, err := filepath.Glob(filepath.Join(dir, "*.zst"))
	require.NoError(t, err)
	assert.Empty(t, archives)
}

func TestSinkReceivesSummaries(t *testing.T) {
	dir := t.TempDir()
	sink := &recordingSink{}
	s, err := NewStore(Options{Dir: dir, Sink: sink})
	require.NoError(t, err)

	s.RecordPreviewRequest("a", "", "x", nil)
	s.RecordPreviewRequest("b", "", "y", nil)
	s.Finalize("a")
	require.NoError(t, s.Close())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.rows, 2)
	assert.Equal(t, "a", sink.rows[0].SessionID)
	assert.Equal(t, "b", sink.rows[1].SessionID)
	assert.Equal(t, 0, s.Len())
}

func TestConcurrentRecordsSameSession(t *testing.T) {
	s, _, _ := newTestStore(t, 1<<20)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordPreviewRequest("race", "", "req", nil)
			s.RecordPreviewResult("race", "ok", nil)
		}()
	}
	wg.Wait()

	snap, ok := s.Snapshot("race")
	require.True(t, ok)
	assert.Equal(t, 50, snap.TotalRequests)
	assert.Len(t, snap.Conversation, 100)
}

// blockLogs replaces every log file with a directory so each append fails.
func blockLogs(t *testing.T, dir string) {
	t.Helper()
	for _, name := range []string{SummaryFileName, DetailFileName, FeedbackFileName} {
		require.NoError(t, os.Mkdir(filepath.Join(dir, name), 0o755))
	}
}

func TestUnwritableLogsDoNotFailCallers(t *testing.T) {
	s, _, dir := newTestStore(t, 1<<20)
	blockLogs(t, dir)

	s.RecordPreviewRequest("sess-ro", "", "פירות", nil)
	s.RecordError("sess-ro", "images", "boom")

	assert.True(t, s.Finalize("sess-ro"))
	assert.Equal(t, 0, s.Len())
	assert.NoError(t, s.RecordFeedback("sess-ro", 4, "ok"))
	assert.NoError(t, s.Close())
}

func TestWriteErrorNamesPathOnce(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, 1<<20, RotateArchive, nil)
	require.NoError(t, err)
	blockLogs(t, dir)

	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	sess := &domain.Session{SessionID: "sess-w", CreatedAt: now, UpdatedAt: now}
	err = w.WriteSession(sess, now.Add(time.Minute))
	require.Error(t, err)

	for _, name := range []string{SummaryFileName, DetailFileName} {
		path := filepath.Join(dir, name)
		assert.Equal(t, 1, strings.Count(err.Error(), path), "path repeated in %q", err.Error())
	}
}
