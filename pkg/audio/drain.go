package audio

// Drain reads from ch until it is closed, discarding all values. Use this to
// prevent goroutine leaks when a stream's data is no longer needed, e.g. a
// participant input channel after the session decided to stop listening.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
