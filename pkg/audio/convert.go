package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter rewrites PCM16 buffers from one [Format] to another: resampling
// and mono/stereo conversion. Create one per stream direction; not designed
// for shared use across goroutines.
type Converter struct {
	From Format
	To   Format

	warnedCorrupt sync.Once
}

// NewConverter returns a Converter from one format to another.
func NewConverter(from, to Format) *Converter {
	return &Converter{From: from, To: to}
}

// Identity reports whether Convert returns its input unchanged.
func (c *Converter) Identity() bool {
	return c.From.SampleRate == c.To.SampleRate && channels(c.From) == channels(c.To)
}

// Convert converts one buffer. A buffer whose length is not a whole number of
// sample frames is dropped (nil is returned) and a warning is logged once.
//
// Downmixing happens before resampling and upmixing after, so the resampler
// only ever sees mono data.
func (c *Converter) Convert(pcm []byte) []byte {
	if c.Identity() {
		return pcm
	}
	if len(pcm)%(channels(c.From)*BytesPerSample) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: partial sample frame, dropping buffer",
				"bytes", len(pcm),
				"from", c.From,
			)
		})
		return nil
	}

	if channels(c.From) == 2 {
		pcm = StereoToMono(pcm)
	}
	pcm = ResampleMono16(pcm, c.From.SampleRate, c.To.SampleRate)
	if channels(c.To) == 2 {
		pcm = MonoToStereo(pcm)
	}
	return pcm
}

// String renders a format for logs, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch n := channels(f); {
	case n == 2:
		ch = "stereo"
	case n > 2:
		ch = fmt.Sprintf("%dch", n)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

func channels(f Format) int {
	if f.Channels <= 0 {
		return 1
	}
	return f.Channels
}

// ── Converting streams ────────────────────────────────────────────────────────

// ConvertSource wraps src, which produces frames in the device format, so that
// its frames arrive in the wire format. It returns src unchanged when no
// conversion is needed.
func ConvertSource(src Source, device, wire Format) Source {
	c := NewConverter(device, wire)
	if c.Identity() {
		return src
	}
	return &convertingSource{Source: src, conv: c}
}

type convertingSource struct {
	Source
	conv *Converter
}

func (s *convertingSource) ReadFrame() ([]byte, error) {
	pcm, err := s.Source.ReadFrame()
	if err != nil {
		return nil, err
	}
	return s.conv.Convert(pcm), nil
}

// ConvertSink wraps sink, which expects the device format, so that it accepts
// buffers in the wire format. It returns sink unchanged when no conversion is
// needed.
func ConvertSink(sink Sink, wire, device Format) Sink {
	c := NewConverter(wire, device)
	if c.Identity() {
		return sink
	}
	return &convertingSink{Sink: sink, conv: c}
}

type convertingSink struct {
	Sink
	conv *Converter
}

func (s *convertingSink) WriteFrame(pcm []byte) error {
	out := s.conv.Convert(pcm)
	if len(out) == 0 {
		return nil
	}
	return s.Sink.WriteFrame(out)
}

// ── Sample helpers ────────────────────────────────────────────────────────────

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSample(out, i, int16((l+r)/2))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sampleAt(pcm, idx+1)
		}
		putSample(out, i, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}
