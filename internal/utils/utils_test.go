package utils

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func TestGenerateMediaID(t *testing.T) {
	// Integration test using the OS filesystem
	tmp, err := os.CreateTemp("", "media_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	// Write dummy content
	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := GenerateMediaID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism
	id2, _ := GenerateMediaID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateMediaID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}

	if _, err := GenerateMediaID("does-not-exist.mp4"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWriteErrorBox(t *testing.T) {
	var out bytes.Buffer
	cmd := NewSafeCommand("true")
	cmd.Stderr.WriteString("Traceback: model missing")

	writeErrorBox(&out, "Worker startup failed", errors.New("exit status 1"), cmd)

	for _, want := range []string{"VERITAS ERROR: Worker startup failed", "DETAILS: exit status 1", "WORKER LOGS", "model missing"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("error box missing %q:\n%s", want, out.String())
		}
	}
}

func TestLogBuffer_KeepsTail(t *testing.T) {
	tests := []struct {
		name   string
		writes []string
		want   string
	}{
		{"Under Limit", []string{"ab", "cd"}, "abcd"},
		{"Drops Oldest", []string{"abcd", "ef"}, "cdef"},
		{"Single Oversized Write", []string{"abcdefgh"}, "efgh"},
		{"Exactly Full", []string{"ab", "cd", ""}, "abcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewLogBuffer(4)
			for _, w := range tt.writes {
				n, err := b.WriteString(w)
				if err != nil || n != len(w) {
					t.Fatalf("WriteString(%q) = %d, %v", w, n, err)
				}
			}
			if got := b.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if b.Len() != len(tt.want) {
				t.Errorf("Len() = %d, want %d", b.Len(), len(tt.want))
			}
		})
	}
}

func TestLogBuffer_BytesIsCopy(t *testing.T) {
	b := NewLogBuffer(16)
	b.WriteString("trace")
	got := b.Bytes()
	got[0] = 'X'
	if b.String() != "trace" {
		t.Errorf("mutating Bytes() changed the buffer: %q", b.String())
	}
}

// Run with -race: a child process writes stderr while the error path reads it.
func TestLogBuffer_ConcurrentAccess(t *testing.T) {
	b := NewLogBuffer(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			b.WriteString("line of python output\n")
		}
	}()
	for i := 0; i < 1000; i++ {
		if b.Len() > 64 || len(b.String()) > 64 {
			t.Fatal("buffer grew past its limit")
		}
	}
	<-done
	if b.Len() != 64 {
		t.Errorf("Len() = %d after sustained writes, want 64", b.Len())
	}
}

func TestSafeCommand_StderrIsBounded(t *testing.T) {
	cmd := NewSafeCommand("true")
	if cmd.Cmd.Stderr != cmd.Stderr {
		t.Fatal("exec.Cmd.Stderr is not the bounded buffer")
	}
	cmd.Stderr.Write(bytes.Repeat([]byte("x"), DefaultLogTail+100))
	if cmd.Stderr.Len() != DefaultLogTail {
		t.Errorf("Len() = %d, want %d", cmd.Stderr.Len(), DefaultLogTail)
	}
}

func TestFmtDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{65 * time.Second, "00:01:05"},
		{3661 * time.Second, "01:01:01"},
	}
	for _, tt := range tests {
		if got := FmtDuration(tt.in); got != tt.want {
			t.Errorf("FmtDuration(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
