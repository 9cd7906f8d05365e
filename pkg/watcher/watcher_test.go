package watcher

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// counter records callback invocations
type counter struct {
	mu    sync.Mutex
	calls int
	last  time.Time
}

func (c *counter) hit(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.last = time.Now()
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newWatcher(t *testing.T) *FileWatcher {
	t.Helper()
	fw, err := NewFileWatcher(zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create file watcher: %v", err)
	}
	t.Cleanup(func() { fw.Close() })
	return fw
}

func TestFileWatcher_DebounceZero(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "connection.json")
	if err := os.WriteFile(tmpFile, []byte("initial"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	fw := newWatcher(t)
	c := &counter{}
	if err := fw.Watch(tmpFile, c.hit, 0); err != nil {
		t.Fatalf("Failed to watch file: %v", err)
	}
	fw.Start()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(tmpFile, []byte("change "+strconv.Itoa(i)), 0o644); err != nil {
			t.Fatalf("Failed to write to file: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(300 * time.Millisecond)

	if c.count() == 0 {
		t.Fatal("Expected at least one callback")
	}
	c.mu.Lock()
	took := c.last.Sub(start)
	c.mu.Unlock()
	if took > 500*time.Millisecond {
		t.Errorf("With 0 debounce, callbacks should be immediate, but took %v", took)
	}
}

func TestFileWatcher_Debounce(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "connection.json")
	if err := os.WriteFile(tmpFile, []byte("initial"), 0o644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	fw := newWatcher(t)
	c := &counter{}
	if err := fw.Watch(tmpFile, c.hit, 500*time.Millisecond); err != nil {
		t.Fatalf("Failed to watch file: %v", err)
	}
	fw.Start()
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(tmpFile, []byte("change "+strconv.Itoa(i)), 0o644); err != nil {
			t.Fatalf("Failed to write to file: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if got := c.count(); got != 0 {
		t.Errorf("Callback fired before the debounce delay (%d calls)", got)
	}
	time.Sleep(1 * time.Second)
	if got := c.count(); got != 1 {
		t.Errorf("Expected 1 debounced callback, got %d", got)
	}
}

func TestFileWatcher_SameContentIsIgnored(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "connection.json")
	if err := os.WriteFile(tmpFile, []byte("same"), 0o644); err != nil {
		t.Fatal(err)
	}

	fw := newWatcher(t)
	c := &counter{}
	if err := fw.Watch(tmpFile, c.hit, 0); err != nil {
		t.Fatal(err)
	}
	fw.Start()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(tmpFile, []byte("same"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	if got := c.count(); got != 0 {
		t.Errorf("Rewriting identical content should not trigger, got %d calls", got)
	}
}

func TestFileWatcher_ReplacedByRename(t *testing.T) {
	dir := t.TempDir()
	tmpFile := filepath.Join(dir, "connection.json")
	if err := os.WriteFile(tmpFile, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	fw := newWatcher(t)
	c := &counter{}
	if err := fw.Watch(tmpFile, c.hit, 0); err != nil {
		t.Fatal(err)
	}
	fw.Start()
	time.Sleep(100 * time.Millisecond)

	staged := filepath.Join(dir, ".connection.json.tmp")
	if err := os.WriteFile(staged, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(staged, tmpFile); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	if got := c.count(); got != 1 {
		t.Errorf("Expected 1 callback for the atomic save, got %d", got)
	}
}

func TestFileWatcher_FileCreatedLater(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "connection.json")

	fw := newWatcher(t)
	c := &counter{}
	if err := fw.Watch(tmpFile, c.hit, 0); err != nil {
		t.Fatalf("Watching a missing file should work: %v", err)
	}
	fw.Start()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(tmpFile, []byte("created"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	if c.count() == 0 {
		t.Error("Expected a callback when the file appears")
	}
}

func TestFileWatcher_MultipleFiles(t *testing.T) {
	tmpDir := t.TempDir()
	file1 := filepath.Join(tmpDir, "file1.json")
	file2 := filepath.Join(tmpDir, "file2.json")
	for _, f := range []string{file1, file2} {
		if err := os.WriteFile(f, []byte("initial"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	fw := newWatcher(t)
	c1, c2 := &counter{}, &counter{}
	if err := fw.Watch(file1, c1.hit, 0); err != nil {
		t.Fatal(err)
	}
	if err := fw.Watch(file2, c2.hit, 200*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	fw.Start()
	time.Sleep(100 * time.Millisecond)

	os.WriteFile(file1, []byte("change1"), 0o644)
	os.WriteFile(file2, []byte("change2"), 0o644)
	time.Sleep(600 * time.Millisecond)

	if c1.count() == 0 {
		t.Error("Expected file1 callback")
	}
	if c2.count() == 0 {
		t.Error("Expected file2 callback")
	}
}

func TestFileWatcher_Unwatch(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "connection.json")
	if err := os.WriteFile(tmpFile, []byte("initial"), 0o644); err != nil {
		t.Fatal(err)
	}

	fw := newWatcher(t)
	c := &counter{}
	if err := fw.Watch(tmpFile, c.hit, 0); err != nil {
		t.Fatal(err)
	}
	fw.Start()
	time.Sleep(100 * time.Millisecond)

	os.WriteFile(tmpFile, []byte("change1"), 0o644)
	time.Sleep(200 * time.Millisecond)
	before := c.count()
	if before == 0 {
		t.Fatal("Expected callback before unwatch")
	}

	if err := fw.Unwatch(tmpFile); err != nil {
		t.Fatalf("Failed to unwatch file: %v", err)
	}
	os.WriteFile(tmpFile, []byte("change2"), 0o644)
	time.Sleep(200 * time.Millisecond)

	if after := c.count(); after != before {
		t.Errorf("Expected no callbacks after unwatch, got %d (was %d)", after, before)
	}
}

func TestFileWatcher_WatchAfterClose(t *testing.T) {
	fw, err := NewFileWatcher(nil)
	if err != nil {
		t.Fatal(err)
	}
	fw.Start()
	if err := fw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := fw.Watch(filepath.Join(t.TempDir(), "x"), func(string) {}, 0); err == nil {
		t.Error("Watch on a closed watcher should fail")
	}
}
