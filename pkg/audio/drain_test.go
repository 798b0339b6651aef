package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/heckle/pkg/audio"
)

func TestDrain_UnblocksProducer(t *testing.T) {
	t.Parallel()

	ch := make(chan audio.AudioFrame)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 10 {
			ch <- audio.AudioFrame{}
		}
		close(ch)
	}()

	audio.Drain(ch)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after Drain returned")
	}
}
