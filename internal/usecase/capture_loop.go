package usecase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"voxchat/internal/audio"
	"voxchat/internal/domain"
	"voxchat/internal/ports"
)

// CaptureEvents are the callbacks a CaptureLoop reports through. OnListening
// fires at the top of every cycle, before the blocking capture begins; it is
// the barge-in trigger.
type CaptureEvents struct {
	OnListening  func()
	OnTranscript func(text string)
	OnError      func(code domain.ErrorCode, detail string)
}

// CaptureConfig tunes the capture cycle.
type CaptureConfig struct {
	Audio           ports.AudioConfig
	PauseWindow     time.Duration
	MaxPhrase       time.Duration
	EnergyThreshold float64
	ChunkSize       int
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.PauseWindow <= 0 {
		c.PauseWindow = 1500 * time.Millisecond
	}
	if c.MaxPhrase <= 0 {
		c.MaxPhrase = 30 * time.Second
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = 300
	}
	if c.ChunkSize < 256 {
		c.ChunkSize = 3200
	}
	return c
}

// CaptureLoop owns continuous listening: detect speech, capture until
// silence, transcribe, repeat. One failed cycle never ends the loop; only a
// deliberate Stop or a capture device that cannot be reacquired does.
type CaptureLoop struct {
	capture     ports.AudioCapture
	transcriber ports.Transcriber
	events      CaptureEvents
	cfg         CaptureConfig
	logger      *log.Logger

	mu       sync.Mutex
	active   bool
	stopping bool
	cancel   context.CancelFunc
	session  ports.AudioSession
	done     chan struct{}
}

func NewCaptureLoop(
	capture ports.AudioCapture,
	transcriber ports.Transcriber,
	cfg CaptureConfig,
	events CaptureEvents,
	logger *log.Logger,
) *CaptureLoop {
	if logger == nil {
		logger = log.Default()
	}
	return &CaptureLoop{
		capture:     capture,
		transcriber: transcriber,
		events:      events,
		cfg:         cfg.withDefaults(),
		logger:      logger,
	}
}

// Start begins continuous capture. Starting an already-active loop is a
// no-op. If the capture device is unavailable the error is reported through
// OnError and returned; voice features degrade, nothing crashes.
func (l *CaptureLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	session, err := l.capture.Start(runCtx, l.cfg.Audio)
	if err != nil {
		l.mu.Unlock()
		cancel()
		l.logger.Error("voice capture unavailable", "error", err)
		l.emitError(domain.ErrorCodeCaptureUnavailable, "voice input is not available")
		return err
	}

	done := make(chan struct{})
	l.active = true
	l.stopping = false
	l.cancel = cancel
	l.session = session
	l.done = done
	l.mu.Unlock()

	l.logger.Info("continuous listening started")
	go l.run(runCtx, session, done)
	return nil
}

// Stop ends the loop and releases the capture device. It is idempotent and
// waits a bounded time for the worker, which may be mid-listen.
func (l *CaptureLoop) Stop() {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return
	}
	l.stopping = true
	cancel := l.cancel
	session := l.session
	done := l.done
	l.cancel = nil
	l.session = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session != nil {
		// Unblocks the worker's blocking Read.
		_ = session.Stop()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			l.logger.Warn("capture worker did not exit within teardown window")
		}
	}
	l.logger.Info("continuous listening stopped")
}

// Active reports whether the loop is running.
func (l *CaptureLoop) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *CaptureLoop) run(ctx context.Context, session ports.AudioSession, done chan struct{}) {
	defer close(done)
	defer func() {
		_ = session.Stop()
		l.mu.Lock()
		l.active = false
		cancel := l.cancel
		l.cancel = nil
		l.session = nil
		l.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}()

	reopened := false
	for ctx.Err() == nil {
		l.emitListening()

		segment, err := l.captureUtterance(ctx, session)
		if err != nil {
			if ctx.Err() != nil || l.stopRequested() {
				return
			}
			if reopened {
				// The device failed again without a single good
				// utterance in between; retrying would spin.
				l.logger.Error("audio capture failed", "error", err)
				l.emitError(domain.ErrorCodeAudioStream, "audio capture failed")
				return
			}
			// One reacquisition attempt covers transient device
			// hiccups; a genuinely lost device fails the restart.
			next, startErr := l.reopenSession(ctx, session)
			if startErr != nil {
				l.logger.Error("audio capture failed", "error", err, "reopen_error", startErr)
				l.emitError(domain.ErrorCodeAudioStream, "audio capture failed")
				return
			}
			if next == nil {
				return
			}
			l.logger.Warn("audio capture interrupted, device reacquired", "error", err)
			session = next
			reopened = true
			continue
		}
		reopened = false
		if len(segment) == 0 {
			continue
		}

		text, err := l.transcriber.Transcribe(ctx, segment)
		if err != nil {
			if ctx.Err() != nil || l.stopRequested() {
				return
			}
			l.logger.Error("transcription failed", "error", err)
			l.emitError(domain.ErrorCodeTranscription, "speech recognition service error")
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			// No speech understood; expected noise, keep listening.
			continue
		}

		l.logger.Info("transcribed utterance", "text", text)
		l.emitTranscript(text)
	}
}

// reopenSession releases the failed session and starts a fresh one. A nil
// session with a nil error means a Stop raced the reopen and the loop should
// exit quietly.
func (l *CaptureLoop) reopenSession(ctx context.Context, old ports.AudioSession) (ports.AudioSession, error) {
	_ = old.Stop()

	next, err := l.capture.Start(ctx, l.cfg.Audio)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.stopping {
		l.mu.Unlock()
		_ = next.Stop()
		return nil, nil
	}
	l.session = next
	l.mu.Unlock()
	return next, nil
}

// captureUtterance blocks until speech energy crosses the threshold and then
// falls silent for the pause window, or the max phrase duration elapses.
func (l *CaptureLoop) captureUtterance(ctx context.Context, session ports.AudioSession) ([]byte, error) {
	var (
		heard      bool
		started    time.Time
		quietSince time.Time
		segment    []byte
	)

	preRoll := audio.NewPreRoll(4)
	buf := make([]byte, l.cfg.ChunkSize)

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		n, readErr := session.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			level := audio.RMS(chunk)

			if !heard {
				preRoll.Push(chunk)
				if level >= l.cfg.EnergyThreshold {
					heard = true
					started = time.Now()
					segment = preRoll.Drain()
				}
			} else {
				segment = append(segment, chunk...)

				if level < l.cfg.EnergyThreshold {
					if quietSince.IsZero() {
						quietSince = time.Now()
					} else if time.Since(quietSince) >= l.cfg.PauseWindow {
						return segment, nil
					}
				} else {
					quietSince = time.Time{}
				}

				if time.Since(started) >= l.cfg.MaxPhrase {
					return segment, nil
				}
			}
		}

		if readErr != nil {
			return nil, readErr
		}
	}
}

func (l *CaptureLoop) stopRequested() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopping
}

func (l *CaptureLoop) emitListening() {
	if l.events.OnListening != nil {
		l.events.OnListening()
	}
}

func (l *CaptureLoop) emitTranscript(text string) {
	if l.events.OnTranscript != nil {
		l.events.OnTranscript(text)
	}
}

func (l *CaptureLoop) emitError(code domain.ErrorCode, detail string) {
	if l.events.OnError != nil {
		l.events.OnError(code, detail)
	}
}
