package usecase

import (
	"context"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"voxchat/internal/ports"
)

// SpeechQueue plays utterances sequentially on a single drain worker. The
// worker is started lazily by Enqueue and exits once the queue is empty.
type SpeechQueue struct {
	synth  ports.Synthesizer
	player ports.Player
	logger *log.Logger

	mu            sync.Mutex
	queue         []string
	draining      bool
	speaking      bool
	enabled       bool
	cancelCurrent context.CancelFunc
}

func NewSpeechQueue(synth ports.Synthesizer, player ports.Player, logger *log.Logger) *SpeechQueue {
	if logger == nil {
		logger = log.Default()
	}
	return &SpeechQueue{synth: synth, player: player, logger: logger, enabled: true}
}

// Enqueue appends text to the queue and ensures the drain worker is running.
// Empty text and calls while speech output is disabled are no-ops.
func (q *SpeechQueue) Enqueue(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.enabled {
		return
	}
	q.queue = append(q.queue, text)
	if !q.draining {
		q.draining = true
		go q.drain()
	}
}

// Stop cancels the utterance currently being rendered and discards all
// queued items. It never blocks on the drain worker, so it is safe to call
// from any goroutine, including event handlers.
func (q *SpeechQueue) Stop() {
	q.mu.Lock()
	q.queue = nil
	cancel := q.cancelCurrent
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// SetEnabled toggles speech output. Disabling also stops the current
// utterance so nothing leaks through after the toggle.
func (q *SpeechQueue) SetEnabled(enabled bool) {
	q.mu.Lock()
	q.enabled = enabled
	q.mu.Unlock()

	if !enabled {
		q.Stop()
	}
}

// IsSpeaking reports whether an utterance is actively being rendered.
func (q *SpeechQueue) IsSpeaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.speaking
}

func (q *SpeechQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		text := q.queue[0]
		q.queue = q.queue[1:]

		ctx, cancel := context.WithCancel(context.Background())
		q.cancelCurrent = cancel
		q.speaking = true
		q.mu.Unlock()

		q.speak(ctx, text)

		q.mu.Lock()
		q.speaking = false
		q.cancelCurrent = nil
		q.mu.Unlock()
		cancel()
	}
}

func (q *SpeechQueue) speak(ctx context.Context, text string) {
	pcm, err := q.synth.Synthesize(ctx, text)
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Error("speech synthesis failed", "error", err)
		}
		return
	}
	if err := q.player.Play(ctx, pcm); err != nil && ctx.Err() == nil {
		q.logger.Error("speech playback failed", "error", err)
	}
}
