// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"micscope/pkg/utils"
)

func newTestRecorder(t testing.TB, bitDepth int, maxDuration time.Duration) *Recorder {
	t.Helper()
	r, err := NewRecorder(testSampleRate, bitDepth, testFrameSize, maxDuration)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	return r
}

func TestRecordingStartStopHotPath(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "test_recording.wav")
	rec := newTestRecorder(t, 16, 0)

	if err := rec.StartRecording(filename); err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}

	if !rec.IsRecording() {
		t.Error("Recorder should be in recording state")
	}
	if rec.outputFile == nil {
		t.Error("Output file should be initialized")
	}
	if rec.wavEncoder == nil {
		t.Error("WAV encoder should be initialized")
	}
	if rec.sampleBuf.Format.NumChannels != 1 {
		t.Errorf("Buffer channels mismatch: got %d, want 1", rec.sampleBuf.Format.NumChannels)
	}
	if rec.sampleBuf.Format.SampleRate != testSampleRate {
		t.Errorf("Buffer sample rate mismatch: got %d, want %d", rec.sampleBuf.Format.SampleRate, testSampleRate)
	}

	// Store reference to check file closure.
	outputFile := rec.outputFile

	if err := rec.StopRecording(); err != nil {
		t.Fatalf("Failed to stop recording: %v", err)
	}
	if rec.IsRecording() {
		t.Error("Recorder should not be in recording state after stopping")
	}
	if rec.outputFile != nil {
		t.Error("Output file should be nil after stopping")
	}
	if rec.wavEncoder != nil {
		t.Error("WAV encoder should be nil after stopping")
	}
	if err := outputFile.Close(); err == nil {
		t.Error("File should already be closed")
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		t.Error("Recording file was not created")
	}
}

func TestRecordingErrorCases(t *testing.T) {
	dir := t.TempDir()

	t.Run("Already recording", func(t *testing.T) {
		rec := newTestRecorder(t, 16, 0)
		if err := rec.StartRecording(filepath.Join(dir, "a.wav")); err != nil {
			t.Fatalf("StartRecording() error = %v", err)
		}
		defer rec.StopRecording()

		err := rec.StartRecording(filepath.Join(dir, "b.wav"))
		if !errors.Is(err, ErrAlreadyRecording) {
			t.Errorf("second StartRecording() error = %v, want ErrAlreadyRecording", err)
		}
	})

	t.Run("Invalid path", func(t *testing.T) {
		rec := newTestRecorder(t, 16, 0)
		blocker := filepath.Join(dir, "file")
		if err := os.WriteFile(blocker, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		// A regular file where a directory is expected.
		if err := rec.StartRecording(filepath.Join(blocker, "x.wav")); err == nil {
			t.Error("Expected error but got none")
		}
		if rec.IsRecording() {
			t.Error("Recorder should not be recording after a failed start")
		}
	})

	t.Run("Creates directories", func(t *testing.T) {
		rec := newTestRecorder(t, 16, 0)
		filename := filepath.Join(dir, "nested", "deeper", "c.wav")
		if err := rec.StartRecording(filename); err != nil {
			t.Fatalf("StartRecording() error = %v", err)
		}
		if err := rec.StopRecording(); err != nil {
			t.Fatalf("StopRecording() error = %v", err)
		}
		if rec.Filename() != filename {
			t.Errorf("Filename() = %q, want %q", rec.Filename(), filename)
		}
	})

	t.Run("Stop when not recording", func(t *testing.T) {
		rec := newTestRecorder(t, 16, 0)
		if err := rec.StopRecording(); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("Unsupported bit depth", func(t *testing.T) {
		_, err := NewRecorder(testSampleRate, 12, testFrameSize, 0)
		if err == nil || !strings.Contains(err.Error(), "bit depth") {
			t.Errorf("NewRecorder() error = %v, want bit depth error", err)
		}
	})
}

func TestRecordingRoundTrip(t *testing.T) {
	for _, bitDepth := range []int{16, 24, 32} {
		t.Run(fmt.Sprintf("%d-bit", bitDepth), func(t *testing.T) {
			filename := filepath.Join(t.TempDir(), "roundtrip.wav")
			rec := newTestRecorder(t, bitDepth, 0)
			if err := rec.StartRecording(filename); err != nil {
				t.Fatalf("StartRecording() error = %v", err)
			}

			signal := utils.GenerateSineWave(testFrameSize*4, testSampleRate, 440, 0.5)
			for i := 0; i < len(signal); i += testFrameSize {
				rec.Write(signal[i : i+testFrameSize])
			}
			if err := rec.StopRecording(); err != nil {
				t.Fatalf("StopRecording() error = %v", err)
			}
			if rec.Written() != len(signal) {
				t.Errorf("Written() = %d, want %d", rec.Written(), len(signal))
			}

			sink := &utils.MockSink{}
			info, err := ReadWAV(filename, 100, sink)
			if err != nil {
				t.Fatalf("ReadWAV() error = %v", err)
			}
			if info.SampleRate != testSampleRate || info.Channels != 1 || info.BitDepth != bitDepth {
				t.Errorf("StreamInfo = %+v", info)
			}
			if info.Frames != len(signal) {
				t.Fatalf("Frames = %d, want %d", info.Frames, len(signal))
			}

			tolerance := 2.0 / float64(int64(1)<<(bitDepth-1))
			got := sink.Samples()
			for i := range signal {
				if absFloat(float64(got[i]-signal[i])) > tolerance+1e-7 {
					t.Fatalf("sample %d = %v, want %v", i, got[i], signal[i])
				}
			}
		})
	}
}

func TestRecordingMaxDuration(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "limited.wav")
	// 10ms at 44.1kHz is 441 samples.
	rec := newTestRecorder(t, 16, 10*time.Millisecond)
	if err := rec.StartRecording(filename); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}

	for range 4 {
		rec.Write(testBuffer)
	}
	if rec.IsRecording() {
		t.Error("Recorder should stop accepting blocks at the duration limit")
	}
	if err := rec.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if rec.Written() != 441 {
		t.Errorf("Written() = %d, want 441", rec.Written())
	}
}

func TestRecordingClampsOutOfRange(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "clamp.wav")
	rec := newTestRecorder(t, 16, 0)
	if err := rec.StartRecording(filename); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	rec.Write([]float32{2, -2, 0})
	if err := rec.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}

	sink := &utils.MockSink{}
	if _, err := ReadWAV(filename, 16, sink); err != nil {
		t.Fatalf("ReadWAV() error = %v", err)
	}
	got := sink.Samples()
	want := []float32{32767.0 / 32768, -32767.0 / 32768, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWriteWhileStoppedIsDropped(t *testing.T) {
	rec := newTestRecorder(t, 16, 0)
	rec.Write(testBuffer)
	if rec.Written() != 0 {
		t.Errorf("Written() = %d, want 0", rec.Written())
	}
}

func TestDefaultFilename(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	got := DefaultFilename("out", ts)
	want := filepath.Join("out", "recording-09-03-2024-140507.wav")
	if got != want {
		t.Errorf("DefaultFilename() = %q, want %q", got, want)
	}
}

func TestWAVInfo(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "info.wav")
	rec := newTestRecorder(t, 24, 0)
	if err := rec.StartRecording(filename); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	rec.Write(testBuffer)
	if err := rec.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}

	info, err := WAVInfo(filename)
	if err != nil {
		t.Fatalf("WAVInfo() error = %v", err)
	}
	want := StreamInfo{SampleRate: testSampleRate, Channels: 1, BitDepth: 24}
	if info != want {
		t.Errorf("WAVInfo() = %+v, want %+v", info, want)
	}

	if _, err := WAVInfo(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("WAVInfo(missing) expected error")
	}
}

func TestReadWAVErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := ReadWAV(filepath.Join(dir, "missing.wav"), 64, nopProcessor{}); err == nil {
		t.Error("ReadWAV(missing) expected error")
	}

	junk := filepath.Join(dir, "junk.wav")
	if err := os.WriteFile(junk, []byte("definitely not a riff file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadWAV(junk, 64, nopProcessor{}); !errors.Is(err, ErrInvalidWAV) {
		t.Errorf("ReadWAV(junk) error = %v, want ErrInvalidWAV", err)
	}

	if _, err := ReadWAV(junk, 0, nopProcessor{}); err == nil {
		t.Error("ReadWAV(block 0) expected error")
	}
}

func BenchmarkRecordingWriteHotPath(b *testing.B) {
	rec := newTestRecorder(b, 16, 0)
	filename := filepath.Join(b.TempDir(), "bench_process.wav")
	if err := rec.StartRecording(filename); err != nil {
		b.Fatal(err)
	}
	defer rec.StopRecording()

	b.ReportAllocs()
	for b.Loop() {
		rec.Write(testBuffer)
	}
}
