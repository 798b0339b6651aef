// Package mimic provides a Mimic 3 backed TTS provider that connects to a
// locally-running mimic3-server via its REST API. It implements the
// tts.Provider interface.
//
// Synthesis is performed via POST /api/tts with the text as the request body
// and the voice plus prosody parameters as URL query parameters. The server
// responds with a complete WAV file. The voice catalogue is retrieved from
// GET /api/voices and filtered to English voices, matching the voice keys the
// clip responder is configured with.
//
// Typical usage:
//
//	p, err := mimic.New("http://localhost:59125",
//	    mimic.WithTimeout(15*time.Second),
//	    mimic.WithDefaultVoice("en_UK/apope_low"),
//	)
//	audio, err := p.Synthesize(ctx, "hello there", "")
package mimic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/heckle/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	ttsEndpoint    = "/api/tts"
	voicesEndpoint = "/api/voices"

	defaultTimeout = 30 * time.Second
	defaultVoice   = "en_UK/apope_low"

	// Prosody parameters sent with every synthesis request. These are the
	// mimic3 defaults for natural-sounding speech.
	noiseScale  = "0.667"
	noiseW      = "0.8"
	lengthScale = "1.0"
)

// Option is a functional option for configuring a Mimic Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout for calls to the mimic3
// server. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithDefaultVoice sets the voice key used when Synthesize is called with an
// empty voice. Defaults to "en_UK/apope_low".
func WithDefaultVoice(voice string) Option {
	return func(p *Provider) { p.defaultVoice = voice }
}

// WithHTTPClient replaces the HTTP client. Intended for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider backed by a mimic3-server instance.
// It is safe for concurrent use.
type Provider struct {
	serverURL    string
	defaultVoice string
	httpClient   *http.Client
}

// New creates a Provider targeting the mimic3 server at serverURL
// (e.g., "http://localhost:59125"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("mimic: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:    strings.TrimRight(serverURL, "/"),
		defaultVoice: defaultVoice,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize renders text through the mimic3 server and returns the WAV
// bytes. A transport-level failure is retried once immediately; HTTP error
// statuses are not retried.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("mimic: text must not be empty")
	}
	if voice == "" {
		voice = p.defaultVoice
	}

	audio, err := p.synthesizeOnce(ctx, text, voice)
	if err != nil && !errors.Is(err, context.Canceled) && !isHTTPStatusErr(err) {
		// One immediate retry for transport errors (connection reset, refused).
		audio, err = p.synthesizeOnce(ctx, text, voice)
	}
	return audio, err
}

func (p *Provider) synthesizeOnce(ctx context.Context, text, voice string) ([]byte, error) {
	q := url.Values{}
	q.Set("voice", voice)
	q.Set("noiseScale", noiseScale)
	q.Set("noiseW", noiseW)
	q.Set("lengthScale", lengthScale)
	q.Set("ssml", "false")
	endpoint := p.serverURL + ttsEndpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("mimic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mimic: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{status: resp.StatusCode}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mimic: read response body: %w", err)
	}
	return audio, nil
}

// Voices returns the English voice keys available from the server.
func (p *Provider) Voices(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("mimic: create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mimic: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{status: resp.StatusCode}
	}

	var entries []struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("mimic: parse voices response: %w", err)
	}

	var keys []string
	for _, e := range entries {
		if strings.HasPrefix(e.Key, "en") {
			keys = append(keys, e.Key)
		}
	}
	return keys, nil
}

// httpStatusError marks non-2xx server responses so the retry logic can
// distinguish them from transport failures.
type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("mimic: server returned HTTP %d", e.status)
}

func isHTTPStatusErr(err error) bool {
	var se *httpStatusError
	return errors.As(err, &se)
}
