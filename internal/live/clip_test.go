package live

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecordClipCollectsWindow(t *testing.T) {
	capture := &fakeCapture{rate: 16000, auto: [][]float32{frame(0.1, 160), frame(0.2, 320)}}
	clip, err := RecordClip(context.Background(), &fakeMic{capture: capture}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("record clip: %v", err)
	}
	if len(clip.Data) != (160+320)*2 {
		t.Fatalf("unexpected clip size %d", len(clip.Data))
	}
	if clip.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("unexpected mime type %q", clip.MIMEType)
	}
	if capture.Stopped() != 1 {
		t.Fatalf("capture not stopped after window")
	}
}

func TestRecordClipDownsamples(t *testing.T) {
	capture := &fakeCapture{rate: 48000, auto: [][]float32{frame(0.1, 4800)}}
	clip, err := RecordClip(context.Background(), &fakeMic{capture: capture}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("record clip: %v", err)
	}
	if len(clip.Data) != 1600*2 {
		t.Fatalf("expected 1600 samples at 16 kHz, got %d bytes", len(clip.Data))
	}
}

func TestRecordClipEmpty(t *testing.T) {
	capture := &fakeCapture{rate: 16000}
	_, err := RecordClip(context.Background(), &fakeMic{capture: capture}, 10*time.Millisecond)
	if !errors.Is(err, ErrEmptyClip) {
		t.Fatalf("expected ErrEmptyClip, got %v", err)
	}
}

func TestRecordClipPermissionDenied(t *testing.T) {
	_, err := RecordClip(context.Background(), &fakeMic{err: errors.New("denied")}, time.Second)
	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Kind != ErrPermissionDenied {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestRecordClipCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	capture := &fakeCapture{rate: 16000}
	_, err := RecordClip(ctx, &fakeMic{capture: capture}, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if capture.Stopped() != 1 {
		t.Fatalf("capture not stopped")
	}
}
