package web_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/heckle/internal/catalog"
	"github.com/MrWong99/heckle/internal/engine/segment"
	"github.com/MrWong99/heckle/internal/web"
)

// fakeVoice records engine calls made by the API.
type fakeVoice struct {
	mu        sync.Mutex
	joined    []string
	left      []string
	refreshes int
	joinErr   error
}

var _ web.VoiceController = (*fakeVoice)(nil)

func (f *fakeVoice) Join(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joined = append(f.joined, channelID)
	return nil
}

func (f *fakeVoice) Leave(channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, channelID)
	return nil
}

func (f *fakeVoice) Channels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joined...)
}

func (f *fakeVoice) RefreshCatalog(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func (f *fakeVoice) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

// fakeTranscriber returns a fixed transcript for clip speech detection.
type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ segment.Utterance) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.text, nil
}

func newTestServer(t *testing.T) (*web.Server, *fakeVoice, *fakeTranscriber, catalog.Store, string) {
	t.Helper()
	store := catalog.NewMemoryStore()
	voice := &fakeVoice{}
	transcriber := &fakeTranscriber{text: "you shall not pass"}
	clipsDir := t.TempDir()
	srv := web.New(store, voice, transcriber, nil, nil, clipsDir)
	return srv, voice, transcriber, store, clipsDir
}

// wavBody returns a minimal valid 48kHz stereo WAV payload.
func wavBody() []byte {
	const samples = 480
	dataSize := samples * 4
	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 2)
	binary.LittleEndian.PutUint32(buf[24:28], 48000)
	binary.LittleEndian.PutUint32(buf[28:32], 48000*4)
	binary.LittleEndian.PutUint16(buf[32:34], 4)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	return buf
}

// uploadRequest builds a multipart clip upload.
func uploadRequest(t *testing.T, fileName string, fields map[string]string, phrases []string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(wavBody()); err != nil {
		t.Fatal(err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range phrases {
		if err := mw.WriteField("phrase", p); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/v1/clips", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestStatus(t *testing.T) {
	t.Parallel()

	srv, voice, _, _, _ := newTestServer(t)
	voice.joined = []string{"voice-1"}
	router := srv.Router()

	rec, body := doJSON(t, router, "GET", "/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["clips"] != float64(0) {
		t.Errorf("clips = %v, want 0", body["clips"])
	}
	chans, _ := body["channels"].([]any)
	if len(chans) != 1 || chans[0] != "voice-1" {
		t.Errorf("channels = %v", body["channels"])
	}
}

func TestJoinLeaveChannel(t *testing.T) {
	t.Parallel()

	srv, voice, _, _, _ := newTestServer(t)
	router := srv.Router()

	rec, _ := doJSON(t, router, "POST", "/v1/channels/voice-9/join", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("join status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(voice.joined) != 1 || voice.joined[0] != "voice-9" {
		t.Errorf("joined = %v", voice.joined)
	}

	rec, _ = doJSON(t, router, "POST", "/v1/channels/voice-9/leave", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("leave status = %d", rec.Code)
	}
	if len(voice.left) != 1 || voice.left[0] != "voice-9" {
		t.Errorf("left = %v", voice.left)
	}
}

func TestJoinChannel_Conflict(t *testing.T) {
	t.Parallel()

	srv, voice, _, _, _ := newTestServer(t)
	voice.joinErr = fmt.Errorf("already joined")
	rec, body := doJSON(t, srv.Router(), "POST", "/v1/channels/voice-1/join", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if body["code"] != "join_failed" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestUploadClip(t *testing.T) {
	t.Parallel()

	srv, voice, transcriber, store, clipsDir := newTestServer(t)
	router := srv.Router()

	req := uploadRequest(t, "airhorn.wav", map[string]string{"title": "Airhorn", "description": "bwaaah"}, []string{"Sound The Alarm", "airhorn"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID      string   `json:"id"`
		Title   string   `json:"title"`
		Phrases []string `json:"phrases"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Title != "Airhorn" {
		t.Errorf("title = %q", created.Title)
	}
	if len(created.Phrases) != 2 {
		t.Errorf("phrases = %v", created.Phrases)
	}

	id, err := uuid.Parse(created.ID)
	if err != nil {
		t.Fatalf("id %q: %v", created.ID, err)
	}
	ctx := context.Background()
	clip, err := store.GetClip(ctx, id)
	if err != nil {
		t.Fatalf("GetClip: %v", err)
	}
	if clip.OriginalFileName != "airhorn.wav" {
		t.Errorf("original file name = %q", clip.OriginalFileName)
	}
	if _, err := os.Stat(filepath.Join(clipsDir, clip.AudioFile)); err != nil {
		t.Errorf("stored audio file missing: %v", err)
	}
	// Stored phrases are normalized to lower case.
	phrases, err := store.PhrasesForClip(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(phrases) != 2 || phrases[0].Phrase != "sound the alarm" {
		t.Errorf("stored phrases = %+v", phrases)
	}

	if voice.refreshCount() == 0 {
		t.Error("upload did not refresh the trigger catalog")
	}

	// Background speech detection fills speech_detected.
	deadline := time.Now().Add(5 * time.Second)
	for {
		clip, err = store.GetClip(ctx, id)
		if err == nil && clip.SpeechDetected == "you shall not pass" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("speech_detected never set (transcriber calls: %d)", transcriber.calls)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUploadClip_MissingFile(t *testing.T) {
	t.Parallel()

	srv, _, _, _, _ := newTestServer(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("title", "no file")
	mw.Close()

	req := httptest.NewRequest("POST", "/v1/clips", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetClip_NotFound(t *testing.T) {
	t.Parallel()

	srv, _, _, _, _ := newTestServer(t)
	router := srv.Router()

	rec, _ := doJSON(t, router, "GET", "/v1/clips/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	rec, body := doJSON(t, router, "GET", "/v1/clips/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if body["code"] != "invalid_id" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestUpdateClip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, _, _, store, _ := newTestServer(t)
	clip := &catalog.Clip{ID: uuid.New(), AudioFile: "a.wav", Title: "old"}
	if err := store.AddClip(ctx, clip); err != nil {
		t.Fatal(err)
	}

	rec, body := doJSON(t, srv.Router(), "PUT", "/v1/clips/"+clip.ID.String(),
		map[string]string{"title": "new title"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if body["title"] != "new title" {
		t.Errorf("title = %v", body["title"])
	}

	got, err := store.GetClip(ctx, clip.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "new title" {
		t.Errorf("stored title = %q", got.Title)
	}
}

func TestDeleteClip_RemovesFileAndPhrases(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, _, _, store, clipsDir := newTestServer(t)
	path := filepath.Join(clipsDir, "bye.wav")
	if err := os.WriteFile(path, wavBody(), 0o644); err != nil {
		t.Fatal(err)
	}
	clip := &catalog.Clip{ID: uuid.New(), AudioFile: "bye.wav"}
	if err := store.AddClip(ctx, clip); err != nil {
		t.Fatal(err)
	}
	if err := store.AddPhrase(ctx, &catalog.Phrase{ID: uuid.New(), ClipID: clip.ID, Phrase: "goodbye"}); err != nil {
		t.Fatal(err)
	}

	rec, _ := doJSON(t, srv.Router(), "DELETE", "/v1/clips/"+clip.ID.String(), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("audio file still on disk after delete")
	}
	if _, err := store.GetClip(ctx, clip.ID); err == nil {
		t.Error("clip still in store after delete")
	}
}

func TestPhraseLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv, voice, _, store, _ := newTestServer(t)
	router := srv.Router()
	clip := &catalog.Clip{ID: uuid.New(), AudioFile: "p.wav"}
	if err := store.AddClip(ctx, clip); err != nil {
		t.Fatal(err)
	}

	rec, body := doJSON(t, router, "POST", "/v1/clips/"+clip.ID.String()+"/phrases",
		map[string]string{"phrase": "Do It Again"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add phrase status = %d: %s", rec.Code, rec.Body.String())
	}
	if body["phrase"] != "do it again" {
		t.Errorf("phrase = %v, want normalized text", body["phrase"])
	}
	phraseID, _ := body["id"].(string)

	rec, listBody := doJSON(t, router, "GET", "/v1/clips/"+clip.ID.String()+"/phrases", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if phrases, _ := listBody["phrases"].([]any); len(phrases) != 1 {
		t.Errorf("phrases = %v", listBody["phrases"])
	}

	rec, _ = doJSON(t, router, "DELETE", "/v1/phrases/"+phraseID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	left, err := store.PhrasesForClip(ctx, clip.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("phrases after delete = %+v", left)
	}
	if voice.refreshCount() < 2 {
		t.Errorf("refreshes = %d, want one per mutation", voice.refreshCount())
	}
}

func TestAddPhrase_Validation(t *testing.T) {
	t.Parallel()

	srv, _, _, _, _ := newTestServer(t)
	router := srv.Router()

	rec, _ := doJSON(t, router, "POST", "/v1/clips/"+uuid.NewString()+"/phrases",
		map[string]string{"phrase": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank phrase status = %d, want 400", rec.Code)
	}

	rec, _ = doJSON(t, router, "POST", "/v1/clips/"+uuid.NewString()+"/phrases",
		map[string]string{"phrase": "fine"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown clip status = %d, want 404", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, _, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}
