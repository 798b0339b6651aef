// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges
// Discord's Opus-based voice transport with the PCM [audio.AudioFrame]
// pipeline the clip responder works in.
//
// The platform requires an active *discordgo.Session (owned by the app layer)
// and a guild ID. Each call to [Platform.Connect] joins the specified voice
// channel and returns a [Connection] that demuxes per-speaker audio input and
// streams clip playback output.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/heckle/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] using discordgo voice connections.
// It is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	guildID string
}

// New creates a new Discord Platform for the given session and guild.
func New(session *discordgo.Session, guildID string) *Platform {
	return &Platform{
		session: session,
		guildID: guildID,
	}
}

// Connect joins the voice channel identified by channelID and returns an
// active [audio.Connection]. ctx governs the connection-setup phase only.
func (p *Platform) Connect(ctx context.Context, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: connect aborted: %w", err)
	}

	// mute=false (we play clips), deaf=false (we listen for triggers).
	vc, err := p.session.ChannelVoiceJoin(p.guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	conn, err := newConnection(vc, p.session, p.guildID)
	if err != nil {
		_ = vc.Disconnect()
		return nil, fmt.Errorf("discord: create connection: %w", err)
	}
	return conn, nil
}
