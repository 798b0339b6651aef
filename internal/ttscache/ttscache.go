// Package ttscache is a content-addressed disk cache in front of a TTS
// provider.
//
// Cache keys are sha256 over the normalized text plus the voice, so the same
// sentence is synthesized once per voice and replayed from disk forever
// after. Entries are immutable; there is no eviction and no revalidation.
// Concurrent requests for the same key are collapsed to a single synthesis
// call via singleflight.
package ttscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/heckle/pkg/provider/tts"
)

// DirName is the cache directory created under the data directory.
const DirName = "tts_cache"

// Cache synthesizes text through a provider and keeps the audio on disk.
// It is safe for concurrent use.
type Cache struct {
	dir      string
	provider tts.Provider
	voice    string
	group    singleflight.Group
}

// New creates a Cache storing entries under dataDir/tts_cache, synthesizing
// with the given default voice. The directory is created if missing.
func New(dataDir string, provider tts.Provider, voice string) (*Cache, error) {
	if provider == nil {
		return nil, errors.New("ttscache: provider must not be nil")
	}
	dir := filepath.Join(dataDir, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ttscache: create cache dir: %w", err)
	}
	return &Cache{dir: dir, provider: provider, voice: voice}, nil
}

// Key returns the cache key for a text/voice pair: hex sha256 over the
// normalized text and the voice.
func Key(text, voice string) string {
	h := sha256.New()
	h.Write([]byte(normalize(text)))
	h.Write([]byte(voice))
	return hex.EncodeToString(h.Sum(nil))
}

// normalize collapses the text variations that should not produce distinct
// cache entries: surrounding and repeated whitespace, letter case.
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Speak returns the path of a cached audio file for text, synthesizing and
// storing it first on a miss. Concurrent callers with the same key share one
// synthesis; the provider is never hit for a key that exists on disk.
func (c *Cache) Speak(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("ttscache: text must not be empty")
	}

	key := Key(text, c.voice)
	path := filepath.Join(c.dir, key)

	v, err, _ := c.group.Do(key, func() (any, error) {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}

		audio, err := c.provider.Synthesize(ctx, text, c.voice)
		if err != nil {
			return "", fmt.Errorf("ttscache: synthesize: %w", err)
		}

		if err := writeFileSync(path, audio); err != nil {
			return "", err
		}
		return path, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// writeFileSync writes data to a temp file, fsyncs, and renames into place
// so a crash never leaves a truncated cache entry behind.
func writeFileSync(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tts-*")
	if err != nil {
		return fmt.Errorf("ttscache: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ttscache: write cache entry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("ttscache: sync cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ttscache: close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("ttscache: move cache entry into place: %w", err)
	}
	return nil
}
