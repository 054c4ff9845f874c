package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGuideHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		runID   string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			runID:   "20240615T143045Z",
			level:   slog.LevelInfo,
			message: "replication finished",
			want:    "2024-06-15T14:30:45Z\tINFO\t20240615T143045Z\treplication finished\n",
		},
		{
			name:    "warn level",
			runID:   "run-2",
			level:   slog.LevelWarn,
			message: "node skipped",
			want:    "2024-06-15T14:30:45Z\tWARN\trun-2\tnode skipped\n",
		},
		{
			name:    "with record attrs",
			runID:   "run-3",
			level:   slog.LevelInfo,
			message: "hospital needs download",
			attrs:   []slog.Attr{slog.Int64("hospital_id", 4), slog.String("remote", "3")},
			want:    "2024-06-15T14:30:45Z\tINFO\trun-3\thospital needs download\thospital_id=4\tremote=3\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &guideHandler{w: &buf, runID: tt.runID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestGuideHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &guideHandler{w: &buf, runID: "run-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("command", "sync")}).(*guideHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}

	r := slog.NewRecord(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), slog.LevelInfo, "started", 0)
	r.AddAttrs(slog.Int64("hospital_id", 2))
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "command=sync") || !strings.Contains(got, "hospital_id=2") {
		t.Errorf("Handle() output = %q, want pre-set and record attrs", got)
	}
}

func TestGuideHandler_Enabled(t *testing.T) {
	h := &guideHandler{level: slog.LevelInfo}

	tests := []struct {
		level slog.Level
		want  bool
	}{
		{slog.LevelDebug, false},
		{slog.LevelInfo, true},
		{slog.LevelWarn, true},
		{slog.LevelError, true},
	}
	for _, tt := range tests {
		if got := h.Enabled(context.Background(), tt.level); got != tt.want {
			t.Errorf("Enabled(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "run-test", false)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	logger.Debug("hidden")
	logger.Info("visible", "hospital_id", 1)

	data, err := os.ReadFile(filepath.Join(dir, "boneguide.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if strings.Contains(string(data), "hidden") {
		t.Errorf("log file contains debug record: %q", data)
	}
	if !strings.Contains(string(data), "visible\thospital_id=1") {
		t.Errorf("log file = %q, want info record", data)
	}
}
