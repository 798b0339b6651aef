package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/heckle/internal/app"
	"github.com/MrWong99/heckle/internal/catalog"
	"github.com/MrWong99/heckle/internal/config"
	"github.com/MrWong99/heckle/pkg/audio"
	sttmock "github.com/MrWong99/heckle/pkg/provider/stt/mock"
)

type fakeConn struct {
	mu           sync.Mutex
	output       chan audio.AudioFrame
	disconnected bool
}

func (c *fakeConn) InputStreams() map[string]<-chan audio.AudioFrame { return nil }
func (c *fakeConn) OutputStream() chan<- audio.AudioFrame            { return c.output }
func (c *fakeConn) OnParticipantChange(func(audio.Event))            {}
func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

type fakePlatform struct {
	mu       sync.Mutex
	conn     *fakeConn
	connects []string
}

func (p *fakePlatform) Connect(_ context.Context, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects = append(p.connects, channelID)
	return p.conn, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:  config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Discord: config.DiscordConfig{Token: "t", GuildID: "g"},
		Storage: config.StorageConfig{DataDirectory: t.TempDir()},
		Behavior: config.BehaviorConfig{
			RateAdjuster:   config.DefaultRateAdjuster,
			RandomInterval: time.Minute,
		},
		STT: config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:9000"},
	}
}

func TestAppLifecycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Discord.ChannelID = "voice-1"

	platform := &fakePlatform{conn: &fakeConn{output: make(chan audio.AudioFrame, 16)}}
	a, err := app.New(context.Background(), cfg,
		app.WithStore(catalog.NewMemoryStore()),
		app.WithPlatform(platform),
		app.WithTranscriber(&sttmock.Transcriber{}),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// The auto-join connects to the configured channel.
	deadline := time.Now().Add(5 * time.Second)
	for {
		platform.mu.Lock()
		n := len(platform.connects)
		platform.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("auto-join never connected")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	a.Shutdown()
	platform.conn.mu.Lock()
	disconnected := platform.conn.disconnected
	platform.conn.mu.Unlock()
	if !disconnected {
		t.Error("shutdown did not disconnect the voice connection")
	}
}

func TestNew_UnknownSTTProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.STT.Name = "espeak"

	_, err := app.New(context.Background(), cfg,
		app.WithStore(catalog.NewMemoryStore()),
		app.WithPlatform(&fakePlatform{conn: &fakeConn{output: make(chan audio.AudioFrame, 1)}}),
	)
	if err == nil {
		t.Fatal("expected error for unknown stt provider")
	}
}
