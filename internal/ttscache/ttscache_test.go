package ttscache_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/heckle/internal/ttscache"
	"github.com/MrWong99/heckle/pkg/provider/tts/mock"
)

func TestKey(t *testing.T) {
	t.Parallel()

	if ttscache.Key("hello", "voice-a") == ttscache.Key("hello", "voice-b") {
		t.Error("different voices must produce different keys")
	}
	if ttscache.Key("hello there", "v") != ttscache.Key("  Hello   THERE ", "v") {
		t.Error("whitespace and case variants should share a key")
	}
	if ttscache.Key("hello", "v") == ttscache.Key("goodbye", "v") {
		t.Error("different texts must produce different keys")
	}
}

func TestSpeak_MissThenHit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := &mock.Provider{Audio: []byte("RIFF-ish audio")}
	c, err := ttscache.New(t.TempDir(), m, "en_UK/apope_low")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	path, err := c.Speak(ctx, "hello there")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read cache entry: %v", err)
	}
	if !bytes.Equal(data, m.Audio) {
		t.Error("cache entry does not hold the synthesized audio")
	}

	// Second call is a hit: same path, no extra synthesis.
	path2, err := c.Speak(ctx, "hello there")
	if err != nil {
		t.Fatalf("Speak (hit): %v", err)
	}
	if path2 != path {
		t.Errorf("hit returned %q, want %q", path2, path)
	}
	if n := len(m.SynthesizeCalls); n != 1 {
		t.Errorf("provider called %d times, want 1", n)
	}
}

func TestSpeak_EmptyText(t *testing.T) {
	t.Parallel()
	c, err := ttscache.New(t.TempDir(), &mock.Provider{}, "v")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Speak(context.Background(), "   "); err == nil {
		t.Error("expected error for blank text")
	}
}

func TestSpeak_SynthesisErrorNotCached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := &mock.Provider{Err: errors.New("server down")}
	c, err := ttscache.New(t.TempDir(), m, "v")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.Speak(ctx, "transient"); err == nil {
		t.Fatal("expected synthesis error to surface")
	}

	// Failure must not leave a cache entry; a later call synthesizes again.
	m.Err = nil
	m.Audio = []byte("ok now")
	path, err := c.Speak(ctx, "transient")
	if err != nil {
		t.Fatalf("Speak after recovery: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !bytes.Equal(data, []byte("ok now")) {
		t.Error("recovered entry holds wrong audio")
	}
}

// TestSpeak_ConcurrentSingleflight verifies that racing callers for one key
// trigger exactly one synthesis.
func TestSpeak_ConcurrentSingleflight(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := &mock.Provider{
		Fn: func(_ context.Context, _, _ string) ([]byte, error) {
			time.Sleep(20 * time.Millisecond)
			return []byte("slow audio"), nil
		},
	}
	c, err := ttscache.New(t.TempDir(), m, "v")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	paths := make([]string, 8)
	for i := range paths {
		wg.Go(func() {
			p, err := c.Speak(ctx, "same text every time")
			if err != nil {
				t.Errorf("Speak: %v", err)
				return
			}
			paths[i] = p
		})
	}
	wg.Wait()

	for _, p := range paths[1:] {
		if p != paths[0] {
			t.Errorf("racing callers got different paths: %q vs %q", p, paths[0])
		}
	}
	if n := len(m.SynthesizeCalls); n != 1 {
		t.Errorf("provider called %d times under race, want 1", n)
	}
}
