package pcm

import (
	"bytes"
	"encoding/base64"
	"math"
	"testing"
	"time"

	"github.com/go-audio/wav"
)

const quantizationError = 1.0 / scale

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frames := [][]float32{
		{0, 0.5, -0.5, 1, -1},
		{0.123, -0.987, 0.0001},
		{},
		{0.25},
	}
	enc := NewEncoder(CaptureSampleRate)
	var want []float32
	var wire []byte
	for _, frame := range frames {
		blob := enc.Encode(frame)
		if blob.MIMEType != "audio/pcm;rate=16000" {
			t.Fatalf("unexpected mime type %q", blob.MIMEType)
		}
		raw, err := base64.StdEncoding.DecodeString(blob.Base64())
		if err != nil {
			t.Fatalf("decode base64: %v", err)
		}
		wire = append(wire, raw...)
		want = append(want, frame...)
	}

	chunk, err := Decode(wire, CaptureSampleRate, CaptureSampleRate)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(chunk.Samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(chunk.Samples))
	}
	for i := range want {
		if diff := math.Abs(float64(chunk.Samples[i] - want[i])); diff > quantizationError {
			t.Fatalf("sample %d: expected %f, got %f", i, want[i], chunk.Samples[i])
		}
	}
}

func TestQuantizeClipsOutOfRange(t *testing.T) {
	samples, err := Dequantize(Quantize([]float32{2, -3, float32(math.NaN())}))
	if err != nil {
		t.Fatalf("dequantize: %v", err)
	}
	if samples[0] != 1 || samples[1] != -1 || samples[2] != 0 {
		t.Fatalf("unexpected clipped samples %v", samples)
	}
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	if _, err := Decode(nil, OutputSampleRate, OutputSampleRate); err != ErrEmptyPayload {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
	if _, err := Decode([]byte{1, 2, 3}, OutputSampleRate, OutputSampleRate); err != ErrOddLength {
		t.Fatalf("expected ErrOddLength, got %v", err)
	}
	if _, err := DecodeBase64("not base64!!", OutputSampleRate, OutputSampleRate); err == nil {
		t.Fatal("expected base64 error")
	}
}

func TestDecodeBase64ChunkDuration(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString(make([]byte, OutputSampleRate*bytesPerSample/10))
	chunk, err := DecodeBase64(payload, OutputSampleRate, OutputSampleRate)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if chunk.Duration() != 100*time.Millisecond {
		t.Fatalf("expected 100ms chunk, got %s", chunk.Duration())
	}
}

func TestResamplerIsSeamlessAcrossFrames(t *testing.T) {
	cases := []struct{ in, out int }{{48000, 16000}, {24000, 48000}}
	for _, tc := range cases {
		stream := make([]float32, 480)
		for i := range stream {
			stream[i] = float32(math.Sin(float64(i) / 7))
		}
		whole := NewResampler(tc.in, tc.out).Process(stream)

		chunked := NewResampler(tc.in, tc.out)
		var got []float32
		for _, size := range []int{1, 7, 100, 33, 0, 339} {
			got = append(got, chunked.Process(stream[:size])...)
			stream = stream[size:]
		}
		if len(got) != len(whole) {
			t.Fatalf("%d->%d: expected %d samples, got %d", tc.in, tc.out, len(whole), len(got))
		}
		for i := range whole {
			if math.Abs(float64(got[i]-whole[i])) > 1e-5 {
				t.Fatalf("%d->%d: sample %d differs: %f vs %f", tc.in, tc.out, i, got[i], whole[i])
			}
		}
	}
}

func TestEncoderDownsamplesToCaptureRate(t *testing.T) {
	enc := NewEncoder(48000)
	blob := enc.Encode(make([]float32, 4800))
	if got := len(blob.Data) / bytesPerSample; got != 1600 {
		t.Fatalf("expected 1600 samples at 16kHz, got %d", got)
	}
}

func TestParseRate(t *testing.T) {
	if got := ParseRate("audio/pcm;rate=24000", 16000); got != 24000 {
		t.Fatalf("expected 24000, got %d", got)
	}
	if got := ParseRate("audio/pcm", 16000); got != 16000 {
		t.Fatalf("expected fallback, got %d", got)
	}
}

func TestIsRaw(t *testing.T) {
	raw := []string{"", "audio/pcm", "audio/pcm;rate=24000", "audio/L16; rate=16000", "application/octet-stream"}
	for _, m := range raw {
		if !IsRaw(m) {
			t.Fatalf("expected %q to be raw", m)
		}
	}
	for _, m := range []string{"audio/mpeg", "audio/wav", "audio/ogg; codecs=opus", "not a type;;"} {
		if IsRaw(m) {
			t.Fatalf("expected %q to be encoded", m)
		}
	}
}

func TestWAVBytes(t *testing.T) {
	data := Quantize([]float32{0, 0.5, -0.5, 0.25})
	out, err := WAVBytes(data, OutputSampleRate, 1)
	if err != nil {
		t.Fatalf("wav bytes: %v", err)
	}
	dec := wav.NewDecoder(bytes.NewReader(out))
	if !dec.IsValidFile() {
		t.Fatal("expected a valid wav file")
	}
	if dec.SampleRate != OutputSampleRate {
		t.Fatalf("expected sample rate %d, got %d", OutputSampleRate, dec.SampleRate)
	}
}
