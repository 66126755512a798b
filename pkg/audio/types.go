package audio

import "time"

const (
	// DefaultSampleRate is the PCM16 sample rate spoken by the realtime
	// service in both directions.
	DefaultSampleRate = 24000

	// DefaultFrameSamples is the number of samples per captured frame
	// (100 ms at DefaultSampleRate).
	DefaultFrameSamples = 2400

	// BytesPerSample is the width of one signed 16-bit little-endian sample.
	BytesPerSample = 2
)

// AudioFrame represents a single frame of audio data flowing through a
// pipeline. Frames are captured from a [Source] and sent over the wire, or
// decoded from inbound events and written to a [Sink]. A frame is never
// mutated after creation.
type AudioFrame struct {
	// Data holds signed 16-bit little-endian mono PCM samples.
	Data []byte

	// Seq is the per-direction sequence index. Indices strictly increase
	// within one direction of one session.
	Seq uint64

	// SampleRate in Hz (24000 for the realtime service).
	SampleRate int

	// Channels is always 1; the service only speaks mono.
	Channels int

	// Timestamp marks the frame's position relative to the stream start.
	Timestamp time.Duration
}

// Samples returns the number of PCM16 samples carried by the frame.
func (f AudioFrame) Samples() int {
	return len(f.Data) / BytesPerSample
}

// Duration returns the playback length of the frame. Zero when the sample
// rate is unknown.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Format describes the fixed shape of an audio stream.
type Format struct {
	SampleRate   int
	Channels     int
	FrameSamples int
}

// DefaultFormat returns the 24 kHz mono, 2400-sample format used by the
// realtime service.
func DefaultFormat() Format {
	return Format{
		SampleRate:   DefaultSampleRate,
		Channels:     1,
		FrameSamples: DefaultFrameSamples,
	}
}

// FrameBytes returns the byte length of one full frame in this format.
func (f Format) FrameBytes() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return f.FrameSamples * ch * BytesPerSample
}

// FrameInterval returns the wall-clock length of one full frame.
func (f Format) FrameInterval() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FrameSamples) * time.Second / time.Duration(f.SampleRate)
}

// Sequencer stamps frames with strictly increasing sequence indices and
// running timestamps. It is not safe for concurrent use; each pipeline
// direction owns its own Sequencer.
type Sequencer struct {
	next    uint64
	elapsed time.Duration
}

// Stamp returns a new frame carrying data, the next sequence index, and the
// stream position at which the frame starts.
func (s *Sequencer) Stamp(data []byte, f Format) AudioFrame {
	frame := AudioFrame{
		Data:       data,
		Seq:        s.next,
		SampleRate: f.SampleRate,
		Channels:   1,
		Timestamp:  s.elapsed,
	}
	s.next++
	s.elapsed += frame.Duration()
	return frame
}

// Next reports the sequence index the next call to Stamp will assign.
func (s *Sequencer) Next() uint64 { return s.next }
