package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"voxchat/internal/ports"
)

// FFPlayPlayer renders linear16 PCM through an ffplay child process fed on
// stdin. Cancelling the Play context kills the process, which is how an
// utterance is stopped mid-render.
type FFPlayPlayer struct {
	command    string
	sampleRate int
	channels   int
}

func NewFFPlayPlayer(command string, sampleRate int, channels int) *FFPlayPlayer {
	if command == "" {
		command = "ffplay"
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return &FFPlayPlayer{command: command, sampleRate: sampleRate, channels: channels}
}

var _ ports.Player = (*FFPlayPlayer)(nil)

func (p *FFPlayPlayer) Play(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-autoexit",
		"-nodisp",
		"-f", "s16le",
		"-ar", strconv.Itoa(p.sampleRate),
		"-ch_layout", channelLayout(p.channels),
		"-i", "-",
	}

	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.Stdin = bytes.NewReader(pcm)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffplay: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case err := <-waitErr:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("playback failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return ctx.Err()
	case <-ctx.Done():
		_ = cmd.Process.Signal(os.Interrupt)
		select {
		case <-waitErr:
		case <-time.After(500 * time.Millisecond):
			_ = cmd.Process.Kill()
			<-waitErr
		}
		return ctx.Err()
	}
}

func channelLayout(channels int) string {
	switch channels {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	default:
		return strconv.Itoa(channels) + "c"
	}
}

// Available reports whether the player binary can be found, letting callers
// degrade gracefully when audio output is absent.
func (p *FFPlayPlayer) Available() bool {
	_, err := exec.LookPath(p.command)
	return !errors.Is(err, exec.ErrNotFound) && err == nil
}
