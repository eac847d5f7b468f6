package tts

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/pcm"
	"github.com/mattn/go-shellwords"
)

// maxLineBytes bounds one line of helper output; base64 audio lines can be
// long.
const maxLineBytes = 8 * 1024 * 1024

// execSynth hands each request to a local voice helper. Requests run one at a
// time because most helpers hold a single voice model in memory.
type execSynth struct {
	args       []string
	voice      string
	sampleRate int
	channels   int
	mu         sync.Mutex
}

// execLine is one line the helper prints. A helper may answer at a rate other
// than the requested one, or with encoded audio named by mime_type.
type execLine struct {
	Audio      string `json:"pcm_base64"`
	MIMEType   string `json:"mime_type"`
	SampleRate int    `json:"sample_rate"`
	Final      bool   `json:"final"`
	Error      string `json:"error"`
}

// NewExecSynth runs command once per request. The command reads
// {"text","voice","sample_rate","channels"} on stdin and prints one execLine
// per line; output after a final line is ignored.
func NewExecSynth(command, voice string, sampleRate, channels int) (Synthesizer, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("tts command empty")
	}
	return &execSynth{args: args, voice: voice, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		e.mu.Lock()
		defer e.mu.Unlock()
		if err := e.run(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (e *execSynth) run(ctx context.Context, req SynthRequest, chunks chan<- SynthChunk) error {
	voice := req.Voice
	if voice == "" {
		voice = e.voice
	}
	input, err := json.Marshal(httpRequest{Text: req.Text, Voice: voice, SampleRate: e.sampleRate, Channels: e.channels})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.args[0], e.args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start tts helper: %w", err)
	}
	_, writeErr := stdin.Write(input)
	stdin.Close()

	scanErr := e.relay(ctx, stdout, chunks)
	if scanErr != nil {
		// Unblock a helper still writing after we stopped reading.
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()
	switch {
	case scanErr != nil:
		return scanErr
	case writeErr != nil:
		return fmt.Errorf("write tts request: %w", writeErr)
	case waitErr != nil:
		return fmt.Errorf("tts helper: %w", waitErr)
	}
	return nil
}

func (e *execSynth) relay(ctx context.Context, stdout io.Reader, chunks chan<- SynthChunk) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	seq := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		chunk, err := e.decodeLine(line)
		if err != nil {
			return err
		}
		chunk.Sequence = seq
		seq++
		select {
		case chunks <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
		if chunk.Final {
			// Drain so the helper can exit on its own.
			for scanner.Scan() {
			}
			return nil
		}
	}
	return scanner.Err()
}

func (e *execSynth) decodeLine(line []byte) (SynthChunk, error) {
	var out execLine
	if err := json.Unmarshal(line, &out); err != nil {
		return SynthChunk{}, fmt.Errorf("decode tts helper line: %w", err)
	}
	if out.Error != "" {
		return SynthChunk{}, fmt.Errorf("tts helper: %s", out.Error)
	}
	data, err := base64.StdEncoding.DecodeString(out.Audio)
	if err != nil {
		return SynthChunk{}, fmt.Errorf("decode tts helper audio: %w", err)
	}
	if pcm.IsRaw(out.MIMEType) && len(data)%2 != 0 {
		return SynthChunk{}, pcm.ErrOddLength
	}
	rate := e.sampleRate
	if out.SampleRate > 0 {
		rate = out.SampleRate
	}
	return SynthChunk{
		SampleRate: rate,
		Channels:   e.channels,
		MIMEType:   out.MIMEType,
		PCM:        data,
		Final:      out.Final,
	}, nil
}
