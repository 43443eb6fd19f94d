// Package chimes synthesizes the per-category alert sounds. No sound
// assets ship with the hub: each chime is a short oscillator tone
// sequence rendered to a mono 16-bit WAV stream that the dashboard plays
// back directly.
package chimes

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"time"
)

const (
	// SampleRate is the output PCM sample rate in Hz.
	SampleRate = 44100

	// ramp is the linear attack/release applied to each tone so the
	// oscillator doesn't click at the edges.
	ramp = 5 * time.Millisecond
)

// ErrUnknownCategory is returned when a category has no chime pattern.
var ErrUnknownCategory = errors.New("no chime for category")

// Render synthesizes the chime for a category at the given volume and
// returns a complete WAV byte stream. Volume is clamped to [0, 1];
// volume <= 0 is a muted no-op and returns (nil, nil).
func Render(category string, volume float64) ([]byte, error) {
	seq := Sequence(category)
	if seq == nil {
		return nil, ErrUnknownCategory
	}
	if volume <= 0 {
		return nil, nil
	}
	if volume > 1 {
		volume = 1
	}
	return encodeWAV(renderSequence(seq, volume)), nil
}

// RenderAll synthesizes every category's chime separated by pause, for
// the settings page "test all sounds" preview.
func RenderAll(volume float64, pause time.Duration) ([]byte, error) {
	if volume <= 0 {
		return nil, nil
	}
	if volume > 1 {
		volume = 1
	}

	var pcm []int16
	for i, cat := range Categories() {
		if i > 0 {
			pcm = append(pcm, silence(pause)...)
		}
		pcm = append(pcm, renderSequence(Sequence(cat), volume)...)
	}
	return encodeWAV(pcm), nil
}

// SampleCount returns the number of PCM samples Render produces for a
// category, without rendering.
func SampleCount(category string) int {
	seq := Sequence(category)
	if seq == nil {
		return 0
	}
	n := 0
	for i, t := range seq {
		if i > 0 {
			n += samplesFor(gap)
		}
		n += samplesFor(t.Duration)
	}
	return n
}

func renderSequence(seq []Tone, volume float64) []int16 {
	var pcm []int16
	for i, t := range seq {
		if i > 0 {
			pcm = append(pcm, silence(gap)...)
		}
		pcm = append(pcm, tone(t.Freq, t.Duration, volume)...)
	}
	return pcm
}

// tone renders a sine oscillator with a linear attack/release envelope.
func tone(freq float64, dur time.Duration, volume float64) []int16 {
	n := samplesFor(dur)
	rampN := samplesFor(ramp)
	if rampN*2 > n {
		rampN = n / 2
	}

	out := make([]int16, n)
	for i := 0; i < n; i++ {
		env := 1.0
		if i < rampN {
			env = float64(i) / float64(rampN)
		} else if i >= n-rampN {
			env = float64(n-i) / float64(rampN)
		}
		s := math.Sin(2 * math.Pi * freq * float64(i) / SampleRate)
		out[i] = int16(s * env * volume * math.MaxInt16)
	}
	return out
}

func silence(dur time.Duration) []int16 {
	return make([]int16, samplesFor(dur))
}

func samplesFor(dur time.Duration) int {
	return int(dur.Seconds() * SampleRate)
}

// encodeWAV wraps mono 16-bit PCM in a RIFF/WAVE header.
func encodeWAV(pcm []int16) []byte {
	dataLen := len(pcm) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))          // chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))           // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1))           // mono
	binary.Write(buf, binary.LittleEndian, uint32(SampleRate))  // sample rate
	binary.Write(buf, binary.LittleEndian, uint32(SampleRate*2)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(2))           // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))          // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	binary.Write(buf, binary.LittleEndian, pcm)

	return buf.Bytes()
}
