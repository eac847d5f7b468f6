package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Anukul-Chandra/Hey-Buddy/internal/pcm"
)

const httpChunkBytes = 32 * 1024

type httpSynth struct {
	endpoint   string
	voice      string
	sampleRate int
	channels   int
	client     *http.Client
}

type httpRequest struct {
	Text         string `json:"text"`
	Voice        string `json:"voice,omitempty"`
	SampleRate   int    `json:"sample_rate"`
	Channels     int    `json:"channels"`
	OutputFormat string `json:"output_format,omitempty"`
}

// rawOutputFormat asks a server that can choose for headerless PCM.
const rawOutputFormat = "pcm_s16le"

// NewHTTPSynth posts each request to endpoint and streams the response body
// back in chunks. A body typed as raw PCM (or untyped) is taken as 16-bit
// samples, honoring a rate parameter; any other audio type, such as
// audio/mpeg, is passed through with its type so callers do not play it as
// samples.
func NewHTTPSynth(endpoint, voice string, sampleRate, channels int) (Synthesizer, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("tts endpoint empty")
	}
	return &httpSynth{
		endpoint:   strings.TrimRight(endpoint, "/"),
		voice:      voice,
		sampleRate: sampleRate,
		channels:   channels,
		client:     &http.Client{},
	}, nil
}

func (h *httpSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		voice := req.Voice
		if voice == "" {
			voice = h.voice
		}
		body, err := json.Marshal(httpRequest{
			Text:         req.Text,
			Voice:        voice,
			SampleRate:   h.sampleRate,
			Channels:     h.channels,
			OutputFormat: rawOutputFormat,
		})
		if err != nil {
			errs <- err
			return
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
		if err != nil {
			errs <- err
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "audio/pcm, audio/*;q=0.5")
		resp, err := h.client.Do(httpReq)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			errs <- fmt.Errorf("tts endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
			return
		}
		format := h.formatOf(resp.Header.Get("Content-Type"))

		buf := make([]byte, httpChunkBytes)
		sequence := 0
		var pending []byte
		for {
			n, readErr := io.ReadFull(resp.Body, buf)
			if n > 0 {
				if pending != nil {
					if !h.send(ctx, chunks, format, sequence, pending, false) {
						errs <- ctx.Err()
						return
					}
					sequence++
				}
				pending = append([]byte(nil), buf[:n]...)
			}
			if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
				break
			}
			if readErr != nil {
				errs <- readErr
				return
			}
		}
		if pending != nil && !h.send(ctx, chunks, format, sequence, pending, true) {
			errs <- ctx.Err()
		}
	}()
	return chunks, errs
}

// formatOf maps a response content type onto the chunk fields it sets. Only
// SampleRate, Channels and MIMEType are filled.
func (h *httpSynth) formatOf(contentType string) SynthChunk {
	format := SynthChunk{SampleRate: h.sampleRate, Channels: h.channels}
	if !pcm.IsRaw(contentType) {
		format.MIMEType = contentType
		return format
	}
	format.SampleRate = pcm.ParseRate(contentType, h.sampleRate)
	return format
}

func (h *httpSynth) send(ctx context.Context, chunks chan<- SynthChunk, format SynthChunk, seq int, data []byte, final bool) bool {
	format.Sequence = seq
	format.PCM = data
	format.Final = final
	select {
	case chunks <- format:
		return true
	case <-ctx.Done():
		return false
	}
}
