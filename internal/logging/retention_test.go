package logging_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"lifeline/internal/logging"
)

func TestCleanupOldLogsPrunesExpired(t *testing.T) {
	dir := t.TempDir()
	expired := filepath.Join(dir, "lifeline-20250101T000000.000Z.log")
	current := filepath.Join(dir, "lifeline-20260826T000000.000Z.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{expired, current, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().AddDate(0, 0, -30)
	for _, path := range []string{expired, current, other} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatal(err)
		}
	}

	logging.CleanupOldLogs(logging.NewNop(), 7,
		logging.RetentionTarget{Dir: dir, Pattern: "lifeline-*.log", Exclude: []string{current}},
	)

	if _, err := os.Stat(expired); !os.IsNotExist(err) {
		t.Fatal("expected expired log to be pruned")
	}
	if _, err := os.Stat(current); err != nil {
		t.Fatalf("expected excluded log to survive: %v", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("expected non-matching file to survive: %v", err)
	}
}

func TestCleanupOldLogsDisabled(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "lifeline-20240101T000000.000Z.log")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().AddDate(0, 0, -400)
	if err := os.Chtimes(stale, past, past); err != nil {
		t.Fatal(err)
	}

	logging.CleanupOldLogs(logging.NewNop(), 0,
		logging.RetentionTarget{Dir: dir, Pattern: "lifeline-*.log"},
	)

	if _, err := os.Stat(stale); err != nil {
		t.Fatalf("expected file to survive with retention disabled: %v", err)
	}
}
