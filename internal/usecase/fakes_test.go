package usecase

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"voxchat/internal/domain"
	"voxchat/internal/ports"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeSynth struct {
	mu    sync.Mutex
	err   error
	texts []string
}

func (s *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	if s.err != nil {
		return nil, s.err
	}
	return []byte(text), nil
}

type fakePlayer struct {
	mu      sync.Mutex
	block   bool
	playing bool
	overlap bool
	played  []string
	started chan struct{}
}

func newFakePlayer(block bool) *fakePlayer {
	return &fakePlayer{block: block, started: make(chan struct{}, 16)}
}

func (p *fakePlayer) Play(ctx context.Context, pcm []byte) error {
	p.mu.Lock()
	if p.playing {
		p.overlap = true
	}
	p.playing = true
	p.played = append(p.played, string(pcm))
	p.mu.Unlock()
	p.started <- struct{}{}

	if p.block {
		<-ctx.Done()
	}

	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
	if p.block {
		return ctx.Err()
	}
	return nil
}

func (p *fakePlayer) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

type fakeBackend struct {
	mu      sync.Mutex
	reply   domain.Reply
	healthy bool
	gate    chan struct{}
	calls   []string
	probes  int
}

func (b *fakeBackend) SendMessage(_ context.Context, message string, _ []domain.Message) domain.Reply {
	b.mu.Lock()
	b.calls = append(b.calls, message)
	gate := b.gate
	reply := b.reply
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return reply
}

func (b *fakeBackend) HealthCheck(_ context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probes++
	return b.healthy
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type fakeAudioSession struct {
	mu      sync.Mutex
	chunks  [][]byte
	idx     int
	readErr error
	stopped chan struct{}
	once    sync.Once
}

func newFakeAudioSession(chunks ...[]byte) *fakeAudioSession {
	return &fakeAudioSession{chunks: chunks, stopped: make(chan struct{})}
}

// Read yields the scripted chunks, then silence until Stop. A configured
// readErr is returned once the script is exhausted. Each read consumes a
// millisecond of wall time so silence windows elapse the way a real device's
// would.
func (s *fakeAudioSession) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)

	select {
	case <-s.stopped:
		return 0, io.EOF
	default:
	}

	s.mu.Lock()
	if s.idx < len(s.chunks) {
		chunk := s.chunks[s.idx]
		s.idx++
		s.mu.Unlock()
		return copy(p, chunk), nil
	}
	err := s.readErr
	s.mu.Unlock()

	if err != nil {
		return 0, err
	}

	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func (s *fakeAudioSession) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func (s *fakeAudioSession) Close() error { return s.Stop() }

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []ports.AudioSession
	err      error
	starts   int
}

// Start hands out scripted sessions in order; once they are exhausted it
// returns err when set, otherwise an endless-silence session.
func (c *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if len(c.sessions) > 0 {
		session := c.sessions[0]
		c.sessions = c.sessions[1:]
		return session, nil
	}
	if c.err != nil {
		return nil, c.err
	}
	return newFakeAudioSession(), nil
}

type transcribeResult struct {
	text string
	err  error
}

type fakeTranscriber struct {
	mu      sync.Mutex
	results []transcribeResult
	calls   int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return "", nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result.text, result.err
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type capturedError struct {
	code   domain.ErrorCode
	detail string
}

type fakeEventSink struct {
	mu         sync.Mutex
	users      []string
	assistants []string
	rooms      []bool
	agents     []bool
	states     []domain.SessionState
	errors     []capturedError
}

func (s *fakeEventSink) UserMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, text)
}

func (s *fakeEventSink) AssistantMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assistants = append(s.assistants, text)
}

func (s *fakeEventSink) RoomConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, connected)
}

func (s *fakeEventSink) AgentConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = append(s.agents, connected)
}

func (s *fakeEventSink) SessionStateChanged(state domain.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, capturedError{code: code, detail: detail})
}

func (s *fakeEventSink) snapshotUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users...)
}

func (s *fakeEventSink) snapshotAssistants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.assistants...)
}

func (s *fakeEventSink) snapshotAgents() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.agents...)
}

func (s *fakeEventSink) snapshotErrors() []capturedError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedError(nil), s.errors...)
}

type fakeRules struct {
	transform string
	err       error
}

func (r *fakeRules) Apply(text string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	if r.transform != "" {
		return r.transform, nil
	}
	return text, nil
}

type fakeSpeechCtl struct {
	mu       sync.Mutex
	speaking bool
	enabled  bool
	enqueued []string
	stops    int
}

func (s *fakeSpeechCtl) Enqueue(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueued = append(s.enqueued, text)
}

func (s *fakeSpeechCtl) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.speaking = false
}

func (s *fakeSpeechCtl) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

func (s *fakeSpeechCtl) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

func (s *fakeSpeechCtl) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func (s *fakeSpeechCtl) snapshotEnqueued() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.enqueued...)
}

type fakeDispatchCtl struct {
	mu          sync.Mutex
	err         error
	instant     *domain.Reply
	messages    []string
	histories   [][]domain.Message
	deliver     func(domain.Reply)
	invalidated int
	waits       int
	settleOK    bool
	inFlight    bool
}

// Dispatch captures the deliver callback for later firing. When instant is
// set the reply is delivered before Dispatch returns, modeling a worker that
// wins the race against the caller.
func (d *fakeDispatchCtl) Dispatch(message string, history []domain.Message, deliver func(domain.Reply)) error {
	d.mu.Lock()
	if d.err != nil {
		d.mu.Unlock()
		return d.err
	}
	d.messages = append(d.messages, message)
	d.histories = append(d.histories, history)
	d.deliver = deliver
	instant := d.instant
	d.mu.Unlock()

	if instant != nil {
		deliver(*instant)
	}
	return nil
}

func (d *fakeDispatchCtl) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalidated++
}

func (d *fakeDispatchCtl) WaitSettled(_ time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waits++
	return d.settleOK
}

func (d *fakeDispatchCtl) InFlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// fire delivers a reply through the callback captured by the last Dispatch.
func (d *fakeDispatchCtl) fire(t *testing.T, reply domain.Reply) {
	t.Helper()
	d.mu.Lock()
	deliver := d.deliver
	d.mu.Unlock()
	if deliver == nil {
		t.Fatalf("no dispatch callback captured")
	}
	deliver(reply)
}

type fakeHealth struct {
	mu        sync.Mutex
	connected bool
	probes    int
}

func (h *fakeHealth) CheckNow(_ context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes++
	return h.connected
}

type fakeCaptureCtl struct {
	mu       sync.Mutex
	startErr error
	starts   int
	stops    int
}

func (c *fakeCaptureCtl) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	return c.startErr
}

func (c *fakeCaptureCtl) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
}

func (c *fakeCaptureCtl) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}
