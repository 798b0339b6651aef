// Package audio defines the interfaces and types for voice-platform
// connectivity and stream management.
//
// The two primary abstractions are:
//
//   - [Platform] — connects to a voice channel and returns a [Connection].
//   - [Connection] — an active session on that channel, giving callers
//     per-participant input streams, a buffered output stream for clip
//     playback, and participant lifecycle events.
//
// Implementations are provided by platform-specific adapter packages (e.g.,
// audio/discord). The interfaces are intentionally narrow so the engine stays
// decoupled from provider SDKs.
package audio

import (
	"context"
)

// EventType classifies participant lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the voice channel.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the voice channel.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change on a voice channel.
type Event struct {
	// Type indicates whether the participant joined or left.
	Type EventType

	// UserID is the platform-specific unique identifier for the participant.
	UserID string

	// Username is the human-readable display name of the participant.
	Username string
}

// Connection represents an active session on a voice channel.
//
// A Connection is obtained from [Platform.Connect] and remains valid until
// [Connection.Disconnect] is called. All channels returned by Connection
// methods are closed automatically when the connection terminates.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// InputStreams returns a snapshot of the current per-participant audio
	// channels. The map key is the platform participant ID; the value delivers
	// that participant's decoded [AudioFrame] values in arrival order. A new
	// entry appears for each joining participant and its channel is closed
	// when the participant leaves.
	//
	// Call InputStreams again after an [EventJoin] to pick up new channels.
	InputStreams() map[string]<-chan AudioFrame

	// OutputStream returns the write-only channel for playback output. Frames
	// written here are encoded and sent to the channel. The channel is
	// buffered; a full buffer applies backpressure to the writer.
	//
	// Ownership: the caller owns the returned channel. The platform does NOT
	// close it on Disconnect; frames written after Disconnect are dropped,
	// never a panic.
	OutputStream() chan<- AudioFrame

	// OnParticipantChange registers cb to be invoked whenever a participant
	// joins or leaves. Only one callback may be registered at a time;
	// subsequent calls replace the previous registration. The callback runs
	// on an internal goroutine and must not block.
	OnParticipantChange(cb func(Event))

	// Disconnect cleanly tears down the connection and closes all input
	// channels. Safe to call more than once; subsequent calls are no-ops.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations wrap provider SDKs and must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel identified by channelID and returns an
	// active [Connection]. ctx governs the connection attempt only; once
	// established, the Connection lives until Disconnect.
	Connect(ctx context.Context, channelID string) (Connection, error)
}
