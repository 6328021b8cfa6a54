package telemetry

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cfi-labs/boardgen/internal/domain"
	"github.com/klauspost/compress/zstd"
)

// File names inside the telemetry directory.
const (
	SummaryFileName  = "conversation_kpis.csv"
	DetailFileName   = "conversation_details.ndjson"
	FeedbackFileName = "user_feedback.csv"
)

// Rotation modes.
const (
	RotateArchive = "archive"
	RotateDelete  = "delete"
)

var summaryHeaders = []string{
	"session_id",
	"user_name",
	"started_at",
	"ended_at",
	"session_duration_seconds",
	"total_requests",
	"first_prompt",
	"summary",
	"images_requested",
	"images_created",
	"had_error",
}

var feedbackHeaders = []string{"timestamp", "session_id", "rating", "comment"}

// Feedback is one user rating, independent of the session lifecycle.
type Feedback struct {
	Timestamp time.Time
	SessionID string
	Rating    int
	Comment   string
}

// logFile is an append-only file that is rotated once it reaches maxBytes.
type logFile struct {
	path     string
	header   []string
	maxBytes int64
	mode     string
	now      func() time.Time
}

// prepare rotates the file if it is full and reports whether a header must be written.
func (f *logFile) prepare() (bool, error) {
	info, err := os.Stat(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat log: %w", err)
	}
	if info.Size() >= f.maxBytes {
		if err := f.rotate(); err != nil {
			return false, err
		}
		return true, nil
	}
	return info.Size() == 0, nil
}

func (f *logFile) rotate() error {
	if f.mode == RotateDelete {
		if err := os.Remove(f.path); err != nil {
			return fmt.Errorf("remove full log: %w", err)
		}
		return nil
	}

	archive := f.archiveName()
	src, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open log for archive: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(archive, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	enc, err := zstd.NewWriter(dst)
	if err != nil {
		dst.Close()
		return fmt.Errorf("init zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dst.Close()
		return fmt.Errorf("compress log: %w", err)
	}
	if err := enc.Close(); err != nil {
		dst.Close()
		return fmt.Errorf("finish archive %s: %w", archive, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Remove(f.path); err != nil {
		return fmt.Errorf("remove archived log: %w", err)
	}
	return nil
}

func (f *logFile) archiveName() string {
	stamp := f.now().UTC().Format("20060102T150405.000Z")
	name := fmt.Sprintf("%s.%s.zst", f.path, stamp)
	for i := 1; ; i++ {
		if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
			return name
		}
		name = fmt.Sprintf("%s.%s-%d.zst", f.path, stamp, i)
	}
}

func (f *logFile) append(data []byte) error {
	fp, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	if _, err := fp.Write(data); err != nil {
		fp.Close()
		return fmt.Errorf("append log: %w", err)
	}
	return fp.Close()
}

func (f *logFile) appendCSV(row []string) error {
	needsHeader, err := f.prepare()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if needsHeader {
		if err := w.Write(f.header); err != nil {
			return err
		}
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode csv row: %w", err)
	}
	return f.append(buf.Bytes())
}

func (f *logFile) appendJSON(v any) error {
	if _, err := f.prepare(); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode ndjson entry: %w", err)
	}
	return f.append(buf.Bytes())
}

// Writer persists finalized sessions and feedback. It is not safe for
// concurrent use; Store serializes every call under its lock.
type Writer struct {
	summary  *logFile
	detail   *logFile
	feedback *logFile
}

// NewWriter creates the telemetry directory and returns a Writer over it.
func NewWriter(dir string, maxBytes int64, mode string, now func() time.Time) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}
	if mode != RotateDelete {
		mode = RotateArchive
	}
	if now == nil {
		now = time.Now
	}
	mk := func(name string, header []string) *logFile {
		return &logFile{path: filepath.Join(dir, name), header: header, maxBytes: maxBytes, mode: mode, now: now}
	}
	return &Writer{
		summary:  mk(SummaryFileName, summaryHeaders),
		detail:   mk(DetailFileName, nil),
		feedback: mk(FeedbackFileName, feedbackHeaders),
	}, nil
}

type sessionDetail struct {
	Event           string                     `json:"event"`
	SessionID       string                     `json:"session_id"`
	UserName        string                     `json:"user_name,omitempty"`
	StartedAt       string                     `json:"started_at"`
	EndedAt         string                     `json:"ended_at"`
	DurationSeconds float64                    `json:"duration_seconds"`
	TotalRequests   int                        `json:"total_requests"`
	FirstPrompt     string                     `json:"first_prompt"`
	Summary         string                     `json:"summary"`
	ImagesRequested int                        `json:"images_requested"`
	ImagesCreated   int                        `json:"images_created"`
	HadError        bool                       `json:"had_error"`
	Conversation    []domain.ConversationEntry `json:"conversation"`
	Assets          domain.SessionAssets       `json:"assets"`
	Errors          []domain.ErrorEvent        `json:"errors"`
}

type feedbackDetail struct {
	Event     string       `json:"event"`
	Timestamp string       `json:"timestamp"`
	SessionID string       `json:"session_id"`
	Data      feedbackData `json:"data"`
}

type feedbackData struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

// WriteSession appends one summary row and one detail record. Both files
// are attempted even if the first one fails.
func (w *Writer) WriteSession(s *domain.Session, endedAt time.Time) error {
	sum := s.Summarize(endedAt)
	row := []string{
		sum.SessionID,
		sum.UserName,
		isoTime(sum.StartedAt),
		isoTime(sum.EndedAt),
		strconv.FormatFloat(sum.DurationSeconds, 'f', 2, 64),
		strconv.Itoa(sum.TotalRequests),
		sum.FirstPrompt,
		sum.Summary,
		strconv.Itoa(sum.ImagesRequested),
		strconv.Itoa(sum.ImagesCreated),
		strconv.FormatBool(sum.HadError),
	}
	csvErr := w.summary.appendCSV(row)

	conversation := s.Conversation
	if conversation == nil {
		conversation = []domain.ConversationEntry{}
	}
	errs := s.Errors
	if errs == nil {
		errs = []domain.ErrorEvent{}
	}
	jsonErr := w.detail.appendJSON(sessionDetail{
		Event:           "session",
		SessionID:       sum.SessionID,
		UserName:        sum.UserName,
		StartedAt:       isoTime(sum.StartedAt),
		EndedAt:         isoTime(sum.EndedAt),
		DurationSeconds: sum.DurationSeconds,
		TotalRequests:   sum.TotalRequests,
		FirstPrompt:     sum.FirstPrompt,
		Summary:         sum.Summary,
		ImagesRequested: sum.ImagesRequested,
		ImagesCreated:   sum.ImagesCreated,
		HadError:        sum.HadError,
		Conversation:    conversation,
		Assets:          s.Assets,
		Errors:          errs,
	})
	return errors.Join(csvErr, jsonErr)
}

// WriteFeedback appends to the feedback table and mirrors the event into the detail log.
func (w *Writer) WriteFeedback(fb Feedback) error {
	csvErr := w.feedback.appendCSV([]string{
		isoTime(fb.Timestamp),
		fb.SessionID,
		strconv.Itoa(fb.Rating),
		fb.Comment,
	})
	jsonErr := w.detail.appendJSON(feedbackDetail{
		Event:     "user_feedback",
		Timestamp: isoTime(fb.Timestamp),
		SessionID: fb.SessionID,
		Data:      feedbackData{Rating: fb.Rating, Comment: fb.Comment},
	})
	return errors.Join(csvErr, jsonErr)
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
