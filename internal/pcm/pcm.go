// Package pcm converts between float audio samples and the 16-bit
// little-endian PCM wire format used by the live session.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"mime"
	"strconv"
	"strings"
	"time"
)

const (
	// CaptureSampleRate is the rate realtime input frames are sent at.
	CaptureSampleRate = 16000
	// OutputSampleRate is the rate the remote side speaks at.
	OutputSampleRate = 24000

	bytesPerSample = 2
	scale          = 32767
)

var (
	ErrEmptyPayload = errors.New("pcm: empty payload")
	ErrOddLength    = errors.New("pcm: payload is not 16-bit aligned")
)

// MIMEType returns the media type tag for raw 16-bit PCM at rate.
func MIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// ParseRate reads the rate parameter of a PCM media type. It returns
// fallback when the parameter is missing or unreadable.
func ParseRate(mimeType string, fallback int) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return fallback
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return fallback
	}
	return rate
}

// IsRaw reports whether mimeType names headerless 16-bit PCM. An empty type
// counts as raw.
func IsRaw(mimeType string) bool {
	if strings.TrimSpace(mimeType) == "" {
		return true
	}
	media, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	switch media {
	case "audio/pcm", "audio/l16", "audio/x-raw", "application/octet-stream":
		return true
	}
	return false
}

// Blob is one encoded realtime-input frame.
type Blob struct {
	MIMEType string
	Data     []byte
}

// Base64 returns the payload in its wire form.
func (b Blob) Base64() string {
	return base64.StdEncoding.EncodeToString(b.Data)
}

// Chunk is a decoded buffer of mono playback samples.
type Chunk struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Duration is the playback length of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Quantize converts samples in [-1, 1] to 16-bit little-endian PCM. Values
// outside the range are clipped.
func Quantize(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		v := math.Round(float64(clip(s)) * scale)
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(int16(v)))
	}
	return out
}

// Dequantize converts 16-bit little-endian PCM to samples in [-1, 1].
func Dequantize(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(data)%bytesPerSample != 0 {
		return nil, ErrOddLength
	}
	out := make([]float32, len(data)/bytesPerSample)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*bytesPerSample:]))
		out[i] = clip(float32(v) / scale)
	}
	return out, nil
}

// Encoder turns captured frames into realtime-input blobs at the capture
// rate. It keeps resampler state between frames, so it must be used for one
// capture stream only.
type Encoder struct {
	rate      int
	resampler *Resampler
}

// NewEncoder returns an encoder for frames captured at inputRate.
func NewEncoder(inputRate int) *Encoder {
	return &Encoder{
		rate:      CaptureSampleRate,
		resampler: NewResampler(inputRate, CaptureSampleRate),
	}
}

// Encode quantizes one frame. An empty frame yields a blob with no data.
func (e *Encoder) Encode(samples []float32) Blob {
	return Blob{
		MIMEType: MIMEType(e.rate),
		Data:     Quantize(e.resampler.Process(samples)),
	}
}

// Decode turns raw inbound PCM at srcRate into a playback chunk at dstRate.
func Decode(data []byte, srcRate, dstRate int) (Chunk, error) {
	samples, err := Dequantize(data)
	if err != nil {
		return Chunk{}, err
	}
	if srcRate <= 0 {
		srcRate = OutputSampleRate
	}
	if dstRate <= 0 {
		dstRate = srcRate
	}
	return Chunk{
		Samples:    NewResampler(srcRate, dstRate).Process(samples),
		SampleRate: dstRate,
		Channels:   1,
	}, nil
}

// DecodeBase64 is Decode for base64 wire payloads.
func DecodeBase64(payload string, srcRate, dstRate int) (Chunk, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Chunk{}, fmt.Errorf("pcm: decode base64: %w", err)
	}
	return Decode(data, srcRate, dstRate)
}

func clip(s float32) float32 {
	if s != s {
		return 0
	}
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
