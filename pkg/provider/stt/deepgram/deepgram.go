// Package deepgram provides a Deepgram-backed Transcriber using the Deepgram
// streaming WebSocket API. Each Transcribe call opens a short-lived stream,
// pushes the whole utterance, signals CloseStream, and drains the final
// results into a single transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/heckle/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// audioChunkBytes is the write granularity for streaming the utterance up.
	// 8 KiB keeps individual WebSocket frames small without flooding the
	// connection with tiny messages.
	audioChunkBytes = 8192
)

// Compile-time assertion that Provider implements stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// Provider implements stt.Transcriber backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams pcm to Deepgram over a fresh WebSocket connection and
// returns the concatenated final transcript.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	wsURL, err := p.buildURL(sampleRate)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Push the whole utterance, then tell Deepgram to flush and finalize.
	for off := 0; off < len(pcm); off += audioChunkBytes {
		end := min(off+audioChunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return "", fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return "", fmt.Errorf("deepgram: close stream: %w", err)
	}

	// Drain results until the server closes the connection. Only final
	// transcripts count; interim results are superseded.
	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusNormalClosure {
				break
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// Deepgram closes the TCP connection after Metadata; treat any
			// post-CloseStream read error as end of stream.
			break
		}

		text, isFinal, ok := parseResponse(msg)
		if ok && isFinal && text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

// Close is a no-op; each Transcribe call manages its own connection.
func (p *Provider) Close() error { return nil }

// buildURL constructs the streaming endpoint URL for raw linear16 PCM at the
// given sample rate.
func (p *Provider) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure of a Deepgram Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResponse extracts the transcript text from a raw Deepgram message.
// Returns ok=false for messages that should be ignored (Metadata, parse
// failures, empty alternatives).
func parseResponse(data []byte) (text string, isFinal, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return "", false, false
	}
	return resp.Channel.Alternatives[0].Transcript, resp.IsFinal, true
}
