package usecase

import (
	"context"
	"testing"

	"voxchat/internal/domain"
	"voxchat/internal/ports"
)

type coordinatorHarness struct {
	coordinator *Coordinator
	capture     *fakeCaptureCtl
	speech      *fakeSpeechCtl
	dispatch    *fakeDispatchCtl
	health      *fakeHealth
	events      *fakeEventSink
}

// rules is an interface so that passing nil exercises the no-rules path; a
// typed nil pointer would slip past the coordinator's nil check.
func newCoordinatorHarness(rules ports.ReplyRules) *coordinatorHarness {
	h := &coordinatorHarness{
		capture:  &fakeCaptureCtl{},
		speech:   &fakeSpeechCtl{},
		dispatch: &fakeDispatchCtl{settleOK: true},
		health:   &fakeHealth{connected: true},
		events:   &fakeEventSink{},
	}
	h.coordinator = NewCoordinator(h.speech, h.dispatch, h.health, rules, h.events, true, discardLogger())
	h.coordinator.AttachCapture(h.capture)
	return h
}

func TestCoordinatorBeginGreetsAndProbes(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)
	h.coordinator.Begin(context.Background())

	assistants := h.events.snapshotAssistants()
	if len(assistants) != 1 || assistants[0] != "Hey, how can I help you today?" {
		t.Fatalf("expected greeting, got %v", assistants)
	}
	if h.health.probes != 1 {
		t.Fatalf("expected one health probe, got %d", h.health.probes)
	}
	if agents := h.events.snapshotAgents(); len(agents) == 0 || !agents[len(agents)-1] {
		t.Fatalf("expected agent connected event, got %v", agents)
	}
}

func TestCoordinatorTranscriptRoundTrip(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)
	events := h.coordinator.CaptureEvents()

	events.OnTranscript("what time is it")

	if users := h.events.snapshotUsers(); len(users) != 1 || users[0] != "what time is it" {
		t.Fatalf("expected user message, got %v", users)
	}
	if len(h.dispatch.messages) != 1 || h.dispatch.messages[0] != "what time is it" {
		t.Fatalf("expected dispatch, got %v", h.dispatch.messages)
	}
	if got := h.coordinator.Status().State; got != domain.SessionStateDispatching {
		t.Fatalf("expected dispatching state, got %s", got)
	}

	h.dispatch.fire(t, domain.Reply{Status: domain.DispatchSuccess, Text: "It is noon."})

	if assistants := h.events.snapshotAssistants(); len(assistants) != 1 || assistants[0] != "It is noon." {
		t.Fatalf("expected assistant message, got %v", assistants)
	}
	if enqueued := h.speech.snapshotEnqueued(); len(enqueued) != 1 || enqueued[0] != "It is noon." {
		t.Fatalf("expected spoken reply, got %v", enqueued)
	}
	if got := h.coordinator.Status().State; got == domain.SessionStateDispatching {
		t.Fatalf("dispatching state must clear after the reply")
	}
}

func TestCoordinatorStatusClearsWhenReplyBeatsDispatchReturn(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)
	h.dispatch.instant = &domain.Reply{Status: domain.DispatchSuccess, Text: "instant answer"}

	h.coordinator.CaptureEvents().OnTranscript("quick question")

	if got := h.coordinator.Status().State; got == domain.SessionStateDispatching {
		t.Fatalf("status stuck at dispatching after the reply was already delivered")
	}
	if assistants := h.events.snapshotAssistants(); len(assistants) != 1 || assistants[0] != "instant answer" {
		t.Fatalf("expected assistant message, got %v", assistants)
	}
}

func TestCoordinatorHistoryAccumulates(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)
	events := h.coordinator.CaptureEvents()

	events.OnTranscript("first question")
	h.dispatch.fire(t, domain.Reply{Status: domain.DispatchSuccess, Text: "first answer"})
	events.OnTranscript("second question")

	if len(h.dispatch.histories) != 2 {
		t.Fatalf("expected two dispatches, got %d", len(h.dispatch.histories))
	}
	second := h.dispatch.histories[1]
	if len(second) != 3 {
		t.Fatalf("expected three history entries, got %d", len(second))
	}
	if second[1].Role != domain.RoleAssistant || second[1].Text != "first answer" {
		t.Fatalf("expected assistant turn in history, got %+v", second[1])
	}
}

func TestCoordinatorRepliesAreNormalizedForSpeech(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(&fakeRules{transform: "spoken form"})
	h.coordinator.CaptureEvents().OnTranscript("hello")
	h.dispatch.fire(t, domain.Reply{Status: domain.DispatchSuccess, Text: "**written** form"})

	if assistants := h.events.snapshotAssistants(); assistants[0] != "**written** form" {
		t.Fatalf("chat must carry the raw reply, got %v", assistants)
	}
	if enqueued := h.speech.snapshotEnqueued(); len(enqueued) != 1 || enqueued[0] != "spoken form" {
		t.Fatalf("speech must carry the normalized reply, got %v", enqueued)
	}
}

func TestCoordinatorBargeInStopsPlayback(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)
	h.speech.speaking = true

	h.coordinator.CaptureEvents().OnListening()

	if h.speech.stopCount() != 1 {
		t.Fatalf("expected playback interrupted once, got %d stops", h.speech.stopCount())
	}

	// Interruption applies on every cycle, not only the first.
	h.speech.mu.Lock()
	h.speech.speaking = true
	h.speech.mu.Unlock()
	h.coordinator.CaptureEvents().OnListening()
	if h.speech.stopCount() != 2 {
		t.Fatalf("expected second interruption, got %d stops", h.speech.stopCount())
	}
}

func TestCoordinatorListeningWithoutPlaybackDoesNotStop(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)
	h.coordinator.CaptureEvents().OnListening()

	if h.speech.stopCount() != 0 {
		t.Fatalf("idle playback must not be stopped")
	}
}

func TestCoordinatorRejectedDispatchReportsOnce(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)
	h.dispatch.err = ErrDispatchInFlight

	h.coordinator.CaptureEvents().OnTranscript("too fast")

	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeDispatch {
		t.Fatalf("expected one dispatch error, got %v", errs)
	}
	if errs[0].detail != "still waiting for the previous reply" {
		t.Fatalf("unexpected detail: %q", errs[0].detail)
	}
}

func TestCoordinatorFailedReplyReportsAndMarksAgentDown(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status domain.DispatchStatus
		want   string
	}{
		{domain.DispatchTimeout, "Request timed out"},
		{domain.DispatchConnectionError, "Cannot connect to server"},
		{domain.DispatchAuthError, "Authentication failed"},
		{domain.DispatchInvalidResponse, "Server returned an invalid response"},
		{domain.DispatchError, "Unknown error"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.status), func(t *testing.T) {
			t.Parallel()

			h := newCoordinatorHarness(nil)
			h.coordinator.CaptureEvents().OnTranscript("hello")
			h.dispatch.fire(t, domain.Reply{Status: tc.status})

			errs := h.events.snapshotErrors()
			if len(errs) != 1 || errs[0].detail != tc.want {
				t.Fatalf("expected %q, got %v", tc.want, errs)
			}
			if agents := h.events.snapshotAgents(); len(agents) == 0 || agents[len(agents)-1] {
				t.Fatalf("expected agent marked down, got %v", agents)
			}
			if enqueued := h.speech.snapshotEnqueued(); len(enqueued) != 0 {
				t.Fatalf("failed reply must not be spoken, got %v", enqueued)
			}
		})
	}
}

func TestCoordinatorFailedReplyDetailFallback(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)
	h.coordinator.CaptureEvents().OnTranscript("hello")
	h.dispatch.fire(t, domain.Reply{Status: domain.DispatchError, Detail: "HTTP 500: boom"})

	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].detail != "HTTP 500: boom" {
		t.Fatalf("expected backend detail, got %v", errs)
	}
}

func TestCoordinatorSpeechDisabledSkipsEnqueue(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)
	h.coordinator.SetSpeechEnabled(false)

	h.coordinator.CaptureEvents().OnTranscript("hello")
	h.dispatch.fire(t, domain.Reply{Status: domain.DispatchSuccess, Text: "quiet answer"})

	if assistants := h.events.snapshotAssistants(); len(assistants) != 1 {
		t.Fatalf("chat reply must still arrive, got %v", assistants)
	}
	if enqueued := h.speech.snapshotEnqueued(); len(enqueued) != 0 {
		t.Fatalf("expected no speech while disabled, got %v", enqueued)
	}
	if h.speech.enabled {
		t.Fatalf("expected speech controller disabled")
	}
}

func TestCoordinatorSubmitTextSharesDispatchPath(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)
	h.coordinator.SubmitText("  typed message  ")

	if users := h.events.snapshotUsers(); len(users) != 1 || users[0] != "typed message" {
		t.Fatalf("expected trimmed user message, got %v", users)
	}
	if len(h.dispatch.messages) != 1 || h.dispatch.messages[0] != "typed message" {
		t.Fatalf("expected dispatch of typed message, got %v", h.dispatch.messages)
	}

	h.coordinator.SubmitText("   ")
	if len(h.dispatch.messages) != 1 {
		t.Fatalf("blank input must not dispatch")
	}
}

func TestCoordinatorVoiceLifecycle(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)

	if err := h.coordinator.StartVoice(context.Background()); err != nil {
		t.Fatalf("start voice failed: %v", err)
	}
	if h.capture.starts != 1 {
		t.Fatalf("expected capture started, got %d", h.capture.starts)
	}
	if got := h.coordinator.Status().State; got != domain.SessionStateListening {
		t.Fatalf("expected listening state, got %s", got)
	}

	// Starting again is a no-op.
	if err := h.coordinator.StartVoice(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if h.capture.starts != 1 {
		t.Fatalf("expected single capture session, got %d", h.capture.starts)
	}

	h.coordinator.StopVoice()
	if h.capture.stopCount() != 1 {
		t.Fatalf("expected capture stopped, got %d", h.capture.stopCount())
	}
	if got := h.coordinator.Status().State; got != domain.SessionStateIdle {
		t.Fatalf("expected idle state, got %s", got)
	}
}

func TestCoordinatorStopAllHaltsCaptureAndPlayback(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)
	if err := h.coordinator.StartVoice(context.Background()); err != nil {
		t.Fatalf("start voice failed: %v", err)
	}

	h.coordinator.StopAll()

	if h.capture.stopCount() != 1 {
		t.Fatalf("expected capture stop")
	}
	if h.speech.stopCount() != 1 {
		t.Fatalf("expected playback stop")
	}
}

func TestCoordinatorDisconnectTearsDown(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)
	if err := h.coordinator.StartVoice(context.Background()); err != nil {
		t.Fatalf("start voice failed: %v", err)
	}

	h.coordinator.Disconnect()

	if h.capture.stopCount() != 1 {
		t.Fatalf("expected capture stopped")
	}
	if h.speech.stopCount() != 1 {
		t.Fatalf("expected playback stopped")
	}
	if h.dispatch.invalidated != 1 {
		t.Fatalf("expected outstanding dispatch invalidated")
	}
	if h.dispatch.waits != 1 {
		t.Fatalf("expected bounded settle wait")
	}
	if got := h.coordinator.Status().State; got != domain.SessionStateDisconnected {
		t.Fatalf("expected disconnected state, got %s", got)
	}
	assistants := h.events.snapshotAssistants()
	if assistants[len(assistants)-1] != "Disconnected. Start a new session to reconnect." {
		t.Fatalf("expected disconnect message, got %v", assistants)
	}

	// Everything after disconnect is inert.
	h.coordinator.SubmitText("hello?")
	if len(h.dispatch.messages) != 0 {
		t.Fatalf("dispatch after disconnect must be ignored")
	}
	h.coordinator.Disconnect()
	if h.capture.stopCount() != 1 {
		t.Fatalf("second disconnect must be a no-op")
	}
}

func TestCoordinatorStaleReplyAfterDisconnectIsDropped(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)
	h.coordinator.CaptureEvents().OnTranscript("pending")
	h.coordinator.Disconnect()

	h.dispatch.fire(t, domain.Reply{Status: domain.DispatchSuccess, Text: "too late"})

	for _, text := range h.events.snapshotAssistants() {
		if text == "too late" {
			t.Fatalf("reply after disconnect must not surface")
		}
	}
	if enqueued := h.speech.snapshotEnqueued(); len(enqueued) != 0 {
		t.Fatalf("reply after disconnect must not be spoken")
	}
}

func TestCoordinatorConnectivityTransitions(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)

	h.coordinator.HandleConnectivity(true)
	h.coordinator.HandleConnectivity(true)
	h.coordinator.HandleConnectivity(false)

	agents := h.events.snapshotAgents()
	if len(agents) != 2 || !agents[0] || agents[1] {
		t.Fatalf("expected transition events only, got %v", agents)
	}
}

func TestCoordinatorCaptureErrorClearsRecording(t *testing.T) {
	t.Parallel()

	h := newCoordinatorHarness(nil)
	if err := h.coordinator.StartVoice(context.Background()); err != nil {
		t.Fatalf("start voice failed: %v", err)
	}

	h.coordinator.CaptureEvents().OnError(domain.ErrorCodeAudioStream, "device lost")

	if h.coordinator.Session().Recording {
		t.Fatalf("recording flag must clear on stream loss")
	}
	errs := h.events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeAudioStream {
		t.Fatalf("expected audio_stream error, got %v", errs)
	}
}
