package discord

import (
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/heckle/pkg/audio"
)

// newTestConnection creates a Connection suitable for unit testing without a
// real Discord voice connection, wiring fake OpusSend/OpusRecv channels.
func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		OpusSend: make(chan []byte, 16),
		OpusRecv: make(chan *discordgo.Packet, 16),
	}
	c := &Connection{
		vc:           vc,
		session:      &discordgo.Session{},
		guildID:      "guild-test",
		inputs:       make(map[string]chan audio.AudioFrame),
		ssrcUser:     make(map[uint32]string),
		output:       make(chan audio.AudioFrame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: func() error { return nil },
	}
	// Start loops like the real constructor, minus the session handler since
	// the fake session has no websocket.
	go c.recvLoop()
	go c.sendLoop()
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func TestNewPlatform(t *testing.T) {
	t.Parallel()

	s := &discordgo.Session{}
	p := New(s, "guild-123")
	if p == nil {
		t.Fatal("New returned nil")
	}
	if p.session != s {
		t.Error("session not stored correctly")
	}
	if p.guildID != "guild-123" {
		t.Errorf("guildID = %q, want %q", p.guildID, "guild-123")
	}
}

// TestConnection_DisconnectIdempotent verifies that Disconnect can be called
// repeatedly without panicking.
func TestConnection_DisconnectIdempotent(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	for i := range 3 {
		if err := c.Disconnect(); i > 0 && err != nil {
			t.Fatalf("Disconnect[%d]: unexpected error: %v", i, err)
		}
	}
}

func TestConnection_InputStreamsEmpty(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	streams := c.InputStreams()
	if streams == nil {
		t.Fatal("InputStreams returned nil")
	}
	if len(streams) != 0 {
		t.Errorf("InputStreams: want 0 entries, got %d", len(streams))
	}
}

func TestConnection_OnParticipantChangeRegisters(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)

	called := make(chan audio.Event, 4)
	c.OnParticipantChange(func(ev audio.Event) {
		called <- ev
	})

	c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: "test-user", Username: "Alice"})

	select {
	case ev := <-called:
		if ev.Type != audio.EventJoin || ev.UserID != "test-user" || ev.Username != "Alice" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for participant change event")
	}

	// Replacing the callback must stop delivery to the old one.
	called2 := make(chan audio.Event, 4)
	c.OnParticipantChange(func(ev audio.Event) {
		called2 <- ev
	})
	c.emitEvent(audio.Event{Type: audio.EventLeave, UserID: "test-user"})

	select {
	case ev := <-called2:
		if ev.Type != audio.EventLeave {
			t.Errorf("replaced callback: event type = %v, want EventLeave", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event on replaced callback")
	}

	select {
	case ev := <-called:
		t.Errorf("original callback should not receive events after replacement, got %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestConnection_RecvDemux verifies that incoming Opus packets are demuxed by
// SSRC onto separate input streams.
func TestConnection_RecvDemux(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)

	// Opus silence frame: 0xF8 0xFF 0xFE.
	silenceOpus := []byte{0xF8, 0xFF, 0xFE}

	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 200, Opus: silenceOpus}

	time.Sleep(100 * time.Millisecond)

	streams := c.InputStreams()
	if len(streams) != 2 {
		t.Fatalf("InputStreams: want 2 entries, got %d", len(streams))
	}
	for _, key := range []string{"100", "200"} {
		if _, ok := streams[key]; !ok {
			t.Errorf("InputStreams: missing SSRC %s", key)
		}
	}

	for ssrc, ch := range streams {
		select {
		case frame := <-ch:
			if frame.SampleRate != opusSampleRate {
				t.Errorf("SSRC %s: SampleRate = %d, want %d", ssrc, frame.SampleRate, opusSampleRate)
			}
			if frame.Channels != opusChannels {
				t.Errorf("SSRC %s: Channels = %d, want %d", ssrc, frame.Channels, opusChannels)
			}
			if len(frame.Data) == 0 {
				t.Errorf("SSRC %s: frame data is empty", ssrc)
			}
		case <-time.After(time.Second):
			t.Fatalf("SSRC %s: timed out waiting for frame", ssrc)
		}
	}
}

// TestConnection_SendEncodes verifies that frames written to OutputStream are
// encoded and appear on OpusSend.
func TestConnection_SendEncodes(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)

	frame := audio.AudioFrame{
		Data:       make([]byte, opusFrameBytes),
		SampleRate: opusSampleRate,
		Channels:   opusChannels,
	}
	c.OutputStream() <- frame

	select {
	case opus := <-c.vc.OpusSend:
		if len(opus) == 0 {
			t.Error("OpusSend: received empty Opus packet")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Opus packet on OpusSend")
	}
}

// TestConnection_UserIDFor verifies the SSRC to user ID fallback behavior.
func TestConnection_UserIDFor(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{SSRC: 42, UserID: "user-42"})

	if got := c.UserIDFor("42"); got != "user-42" {
		t.Errorf("UserIDFor(42) = %q, want %q", got, "user-42")
	}
	if got := c.UserIDFor("99"); got != "99" {
		t.Errorf("UserIDFor(99) = %q, want fallback %q", got, "99")
	}
	if got := c.UserIDFor("not-a-number"); got != "not-a-number" {
		t.Errorf("UserIDFor(non-numeric) = %q, want input echoed", got)
	}
}

// TestConnection_ConcurrentDisconnect exercises Disconnect from multiple
// goroutines (run with -race).
func TestConnection_ConcurrentDisconnect(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = c.Disconnect()
		})
	}
	wg.Wait()
}
