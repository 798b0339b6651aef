package discord

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/heckle/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

const (
	inputChannelBuffer  = 64
	outputChannelBuffer = 64

	// speakingIdleTimeout is how long the send loop waits after the last
	// output frame before clearing the speaking indicator. Clips are short
	// and intermittent, so the indicator should not stay lit between plays.
	speakingIdleTimeout = 250 * time.Millisecond
)

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Incoming Opus packets are demuxed by SSRC
// into per-speaker PCM input streams; outgoing PCM frames are encoded to
// Opus for transmission.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string

	inputsMu sync.RWMutex
	inputs   map[string]chan audio.AudioFrame // keyed by SSRC string
	ssrcUser map[uint32]string                // SSRC -> userID, from speaking updates

	output chan audio.AudioFrame

	changeMu sync.Mutex
	changeCb func(audio.Event)

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func() // removes the VoiceStateUpdate handler

	// disconnectVC tears down the voice connection during Disconnect.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts the receive and send goroutines.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string) (*Connection, error) {
	c := &Connection{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		inputs:       make(map[string]chan audio.AudioFrame),
		ssrcUser:     make(map[uint32]string),
		output:       make(chan audio.AudioFrame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}

	// VoiceStateUpdate detects members joining or leaving the channel.
	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)

	// Speaking updates carry the SSRC to user mapping. Without them input
	// streams are keyed by bare SSRC only.
	vc.AddHandler(c.handleSpeakingUpdate)

	go c.recvLoop()
	go c.sendLoop()

	return c, nil
}

// InputStreams returns a snapshot of the current per-speaker audio channels,
// keyed by SSRC string.
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	snap := make(map[string]<-chan audio.AudioFrame, len(c.inputs))
	for id, ch := range c.inputs {
		snap[id] = ch
	}
	return snap
}

// OutputStream returns the write-only channel for clip playback output.
// Frames written here are encoded to Opus and sent to Discord.
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	return c.output
}

// OnParticipantChange registers cb as the callback for join/leave events.
// Only one callback may be registered; subsequent calls replace it.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	c.changeCb = cb
}

// Disconnect tears down the voice connection and stops the background
// goroutines. Safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.removeHandler != nil {
			c.removeHandler()
		}

		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}

		// Close all input channels so downstream segmenters see EOF.
		c.inputsMu.Lock()
		for id, ch := range c.inputs {
			close(ch)
			delete(c.inputs, id)
		}
		c.inputsMu.Unlock()
	})
	return err
}

// UserIDFor returns the Discord user ID behind an SSRC stream key, as learned
// from speaking updates. Falls back to the key itself when unknown.
func (c *Connection) UserIDFor(streamKey string) string {
	ssrc, err := strconv.ParseUint(streamKey, 10, 32)
	if err != nil {
		return streamKey
	}
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	if userID, ok := c.ssrcUser[uint32(ssrc)]; ok {
		return userID
	}
	return streamKey
}

// recvLoop reads Opus packets from Discord, demuxes them by SSRC, decodes to
// PCM, and delivers AudioFrames to per-speaker channels.
func (c *Connection) recvLoop() {
	// One decoder per SSRC to keep decoder state per speaker.
	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			ssrc := pkt.SSRC
			key := strconv.FormatUint(uint64(ssrc), 10)

			dec, exists := decoders[ssrc]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", key, "error", err)
					continue
				}
				decoders[ssrc] = dec
			}

			c.inputsMu.Lock()
			ch, chExists := c.inputs[key]
			if !chExists {
				ch = make(chan audio.AudioFrame, inputChannelBuffer)
				c.inputs[key] = ch
			}
			c.inputsMu.Unlock()

			if !chExists {
				// A fresh SSRC stream counts as a speaker arriving, even if
				// the member-level join event was missed.
				c.emitEvent(audio.Event{
					Type:   audio.EventJoin,
					UserID: c.UserIDFor(key),
				})
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", key, "error", err)
				continue
			}

			frame := audio.AudioFrame{
				Data:       pcm,
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
				Timestamp:  time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate),
			}

			select {
			case ch <- frame:
			default:
				// Channel full. Drop rather than stall the demux loop.
			}
		}
	}
}

// sendLoop reads PCM AudioFrames from the output channel, converts them to
// the Discord wire format (48 kHz stereo), cuts exact Opus frame-sized
// chunks, encodes, and hands them to the voice connection. The speaking
// indicator is raised while frames flow and cleared after a short idle gap.
func (c *Connection) sendLoop() {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: failed to create opus encoder", "error", err)
		return
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}}

	speaking := false
	idle := time.NewTimer(speakingIdleTimeout)
	defer idle.Stop()

	var buf []byte

	for {
		select {
		case <-c.done:
			if speaking {
				c.setSpeaking(false)
			}
			return

		case <-idle.C:
			if speaking {
				c.setSpeaking(false)
				speaking = false
			}
			buf = nil

		case frame, ok := <-c.output:
			if !ok {
				return
			}

			if !speaking {
				c.setSpeaking(true)
				speaking = true
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(speakingIdleTimeout)

			frame = conv.Convert(frame)
			buf = append(buf, frame.Data...)

			for len(buf) >= opusFrameBytes {
				opus, eErr := enc.encode(buf[:opusFrameBytes])
				buf = buf[opusFrameBytes:]
				if eErr != nil {
					slog.Warn("discord: opus encode error", "error", eErr)
					continue
				}

				select {
				case c.vc.OpusSend <- opus:
				case <-c.done:
					return
				}
			}
		}
	}
}

// handleVoiceStateUpdate turns Discord VoiceStateUpdate events into join and
// leave events for the channel this connection is on.
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != c.guildID {
		return
	}

	channelID := c.vc.ChannelID

	username := ""
	if vsu.Member != nil && vsu.Member.User != nil {
		username = vsu.Member.User.Username
	}

	// Left our channel.
	if vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == channelID && vsu.ChannelID != channelID {
		c.emitEvent(audio.Event{
			Type:     audio.EventLeave,
			UserID:   vsu.UserID,
			Username: username,
		})
		return
	}

	// Joined our channel.
	if vsu.ChannelID == channelID && (vsu.BeforeUpdate == nil || vsu.BeforeUpdate.ChannelID != channelID) {
		c.emitEvent(audio.Event{
			Type:     audio.EventJoin,
			UserID:   vsu.UserID,
			Username: username,
		})
	}
}

// handleSpeakingUpdate records the SSRC to user ID mapping Discord announces
// when a member starts transmitting.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	if su == nil || su.UserID == "" {
		return
	}
	c.inputsMu.Lock()
	c.ssrcUser[uint32(su.SSRC)] = su.UserID
	c.inputsMu.Unlock()
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}

// emitEvent invokes the registered participant change callback, if any.
func (c *Connection) emitEvent(ev audio.Event) {
	c.changeMu.Lock()
	cb := c.changeCb
	c.changeMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}
