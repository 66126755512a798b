package pipeline_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/realtalk/internal/pipeline"
	"github.com/MrWong99/realtalk/pkg/audio"
	audiomock "github.com/MrWong99/realtalk/pkg/audio/mock"
	"github.com/MrWong99/realtalk/pkg/provider/realtime"
	rtmock "github.com/MrWong99/realtalk/pkg/provider/realtime/mock"
)

func shimmerConfig() realtime.SessionConfig {
	return realtime.SessionConfig{
		MaxResponseOutputTokens: 150,
		Voice:                   "shimmer",
		InputAudioFormat:        realtime.AudioFormatPCM16,
		TurnDetection: realtime.TurnDetection{
			Type:              realtime.TurnDetectionServerVAD,
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 200,
		},
	}
}

// cancelAfterAppends returns an OnSend hook cancelling ctx once n audio
// frames have been sent.
func cancelAfterAppends(n int, cancel context.CancelFunc) func(realtime.Command) {
	count := 0
	return func(cmd realtime.Command) {
		if _, ok := cmd.(realtime.AudioAppend); ok {
			count++
			if count == n {
				cancel()
			}
		}
	}
}

func TestCapture_ConfigureThenOneFrame(t *testing.T) {
	t.Parallel()

	frame := frameOf(0x2a)
	src := &audiomock.Source{Frames: [][]byte{frame}}
	dev := &audiomock.Device{Source: src}
	metrics, reader := testMetrics(t)

	ctx, cancel := context.WithCancel(testCtx(t))
	defer cancel()
	sess := rtmock.NewSession()
	sess.Hold = true
	sess.OnSend = cancelAfterAppends(1, cancel)

	c := pipeline.NewCapture(dev, shimmerConfig(),
		pipeline.WithSendInterval(0),
		pipeline.WithCaptureMetrics(metrics),
	)
	if err := c.Run(ctx, sess); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sent := sess.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d commands, want 2 (session.update + one append)", len(sent))
	}
	upd, ok := sent[0].(realtime.SessionUpdate)
	if !ok {
		t.Fatalf("first command = %T, want SessionUpdate", sent[0])
	}
	if upd.Session.Voice != "shimmer" || upd.Session.InputAudioFormat != "pcm16" || upd.Session.TurnDetection.SilenceDurationMs != 200 {
		t.Errorf("session config = %+v", upd.Session)
	}

	data, err := realtime.MarshalCommand(sent[1])
	if err != nil {
		t.Fatalf("MarshalCommand: %v", err)
	}
	want := `{"type":"input_audio_buffer.append","audio":"` + base64.StdEncoding.EncodeToString(frame) + `"}`
	if string(data) != want {
		t.Error("append message does not carry exactly the captured 4800 bytes")
	}

	if src.CloseCount() != 1 {
		t.Errorf("source CloseCount = %d, want 1", src.CloseCount())
	}
	if got := counter(t, reader, "realtalk.audio.frames_captured"); got != 1 {
		t.Errorf("frames_captured = %d, want 1", got)
	}
}

func TestCapture_FramesSentInOrder(t *testing.T) {
	t.Parallel()

	frames := [][]byte{frameOf(1), frameOf(2), frameOf(3), frameOf(4)}
	src := &audiomock.Source{Frames: frames}
	dev := &audiomock.Device{Source: src}
	metrics, _ := testMetrics(t)

	ctx, cancel := context.WithCancel(testCtx(t))
	defer cancel()
	sess := rtmock.NewSession()
	sess.OnSend = cancelAfterAppends(len(frames), cancel)

	c := pipeline.NewCapture(dev, shimmerConfig(), pipeline.WithSendInterval(0), pipeline.WithCaptureMetrics(metrics))
	if err := c.Stream(ctx, sess); err != nil {
		t.Fatalf("Stream: %v", err)
	}

	appends := sess.SentOfType(realtime.TypeInputAudioAppend)
	if len(appends) != len(frames) {
		t.Fatalf("sent %d frames, want %d", len(appends), len(frames))
	}
	for i, cmd := range appends {
		if !bytes.Equal(cmd.(realtime.AudioAppend).Audio, frames[i]) {
			t.Errorf("frame %d sent out of order", i)
		}
	}
}

func TestCapture_MaxDurationIsCleanStop(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Delay: time.Millisecond}
	dev := &audiomock.Device{Source: src}
	metrics, _ := testMetrics(t)
	sess := rtmock.NewSession()

	c := pipeline.NewCapture(dev, shimmerConfig(),
		pipeline.WithSendInterval(5*time.Millisecond),
		pipeline.WithMaxDuration(60*time.Millisecond),
		pipeline.WithCaptureMetrics(metrics),
	)

	start := time.Now()
	if err := c.Stream(testCtx(t), sess); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stream ran %v, want about 60ms", elapsed)
	}
	if n := len(sess.SentOfType(realtime.TypeInputAudioAppend)); n == 0 {
		t.Error("no frames sent before the duration elapsed")
	}
	if src.CloseCount() != 1 {
		t.Errorf("source CloseCount = %d, want 1", src.CloseCount())
	}
}

func TestCapture_Pacing(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{}
	metrics, _ := testMetrics(t)

	ctx, cancel := context.WithCancel(testCtx(t))
	defer cancel()
	sess := rtmock.NewSession()
	sess.OnSend = cancelAfterAppends(4, cancel)

	c := pipeline.NewCapture(dev, shimmerConfig(),
		pipeline.WithSendInterval(20*time.Millisecond),
		pipeline.WithCaptureMetrics(metrics),
	)
	start := time.Now()
	if err := c.Stream(ctx, sess); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	// Four sends are separated by three full intervals.
	if elapsed := time.Since(start); elapsed < 55*time.Millisecond {
		t.Errorf("4 frames took %v, want at least 3 intervals of 20ms", elapsed)
	}
}

func TestCapture_DeviceReadFailure(t *testing.T) {
	t.Parallel()

	readErr := errors.New("input overflowed")
	src := &audiomock.Source{Frames: [][]byte{frameOf(1), frameOf(2)}, ReadErr: readErr}
	dev := &audiomock.Device{Source: src}
	metrics, _ := testMetrics(t)
	sess := rtmock.NewSession()

	c := pipeline.NewCapture(dev, shimmerConfig(), pipeline.WithSendInterval(0), pipeline.WithCaptureMetrics(metrics))
	err := c.Stream(testCtx(t), sess)

	var de *audio.DeviceError
	if !errors.As(err, &de) || de.Op != "read" {
		t.Fatalf("Stream error = %v, want DeviceError{Op: read}", err)
	}
	if !errors.Is(err, readErr) {
		t.Error("DeviceError does not wrap the device failure")
	}
	if n := len(sess.SentOfType(realtime.TypeInputAudioAppend)); n != 2 {
		t.Errorf("sent %d frames before failure, want 2", n)
	}
	if src.CloseCount() != 1 {
		t.Errorf("source CloseCount = %d, want 1", src.CloseCount())
	}
}

func TestCapture_DeviceOpenFailure(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{OpenSourceErr: errors.New("no input device")}
	metrics, _ := testMetrics(t)
	sess := rtmock.NewSession()

	c := pipeline.NewCapture(dev, shimmerConfig(), pipeline.WithCaptureMetrics(metrics))
	err := c.Stream(testCtx(t), sess)

	var de *audio.DeviceError
	if !errors.As(err, &de) || de.Op != "open" {
		t.Fatalf("Stream error = %v, want DeviceError{Op: open}", err)
	}
	if len(sess.Sent()) != 0 {
		t.Errorf("sent %d commands, want none", len(sess.Sent()))
	}
}

func TestCapture_SendFailureIsTerminal(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{}
	dev := &audiomock.Device{Source: src}
	metrics, _ := testMetrics(t)

	sendErr := &realtime.TransportError{Op: "send", Type: realtime.TypeInputAudioAppend, Err: errors.New("connection reset")}
	sess := rtmock.NewSession()
	sess.SendErr = sendErr
	sess.FailSendAfter = 1

	c := pipeline.NewCapture(dev, shimmerConfig(), pipeline.WithSendInterval(0), pipeline.WithCaptureMetrics(metrics))
	err := c.Run(testCtx(t), sess)

	var te *realtime.TransportError
	if !errors.As(err, &te) || te.Op != "send" {
		t.Fatalf("Run error = %v, want TransportError{Op: send}", err)
	}
	if src.CloseCount() != 1 {
		t.Errorf("source CloseCount = %d, want 1", src.CloseCount())
	}
}

func TestCapture_ConfigureFailure(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{}
	metrics, _ := testMetrics(t)
	sess := rtmock.NewSession()
	sess.SendErr = &realtime.TransportError{Op: "send", Err: realtime.ErrSessionClosed}

	c := pipeline.NewCapture(dev, shimmerConfig(), pipeline.WithCaptureMetrics(metrics))
	if err := c.Run(testCtx(t), sess); !errors.Is(err, realtime.ErrSessionClosed) {
		t.Fatalf("Run error = %v, want ErrSessionClosed", err)
	}
	if dev.CallCountOpenSource != 0 {
		t.Error("device opened although configuration failed")
	}
}

func TestCapture_DeviceFormatConversion(t *testing.T) {
	t.Parallel()

	device := audio.Format{SampleRate: 48000, Channels: 2, FrameSamples: 4800}
	src := &audiomock.Source{FrameSize: device.FrameBytes()}
	dev := &audiomock.Device{Source: src}
	metrics, _ := testMetrics(t)

	ctx, cancel := context.WithCancel(testCtx(t))
	defer cancel()
	sess := rtmock.NewSession()
	sess.OnSend = cancelAfterAppends(1, cancel)

	c := pipeline.NewCapture(dev, shimmerConfig(),
		pipeline.WithSendInterval(0),
		pipeline.WithCaptureFormat(audio.DefaultFormat(), device),
		pipeline.WithCaptureMetrics(metrics),
	)
	if err := c.Stream(ctx, sess); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if dev.LastFormat != device {
		t.Errorf("device opened with %v, want %v", dev.LastFormat, device)
	}
	appends := sess.SentOfType(realtime.TypeInputAudioAppend)
	if got := len(appends[0].(realtime.AudioAppend).Audio); got != 4800 {
		t.Errorf("sent frame = %d bytes, want 4800", got)
	}
}
