package transcriber

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/z-wentao/okoshi/pkg/apperr"
	"github.com/z-wentao/okoshi/pkg/audio"
	"github.com/z-wentao/okoshi/pkg/models"
)

type fixedProber struct {
	seconds float64
	err     error
}

func (p fixedProber) Duration(ctx context.Context, path string) (float64, error) {
	return p.seconds, p.err
}

// fakeRunner simulates ffmpeg; the output path is always the last argument.
type fakeRunner struct {
	run   func(name string, args []string) (audio.CommandResult, error)
	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (audio.CommandResult, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.run == nil {
		return audio.CommandResult{}, nil
	}
	return f.run(name, args)
}

func writingRunner(t *testing.T) *fakeRunner {
	return &fakeRunner{run: func(name string, args []string) (audio.CommandResult, error) {
		mustWrite(t, args[len(args)-1], "mp3")
		return audio.CommandResult{}, nil
	}}
}

func mustWrite(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func assertContiguous(t *testing.T, segs []models.Segment, duration float64) {
	t.Helper()
	if segs[0].Start != 0 {
		t.Fatalf("first start = %v", segs[0].Start)
	}
	for i, s := range segs {
		if s.Index != i {
			t.Fatalf("segment %d has index %d", i, s.Index)
		}
		if s.End <= s.Start {
			t.Fatalf("segment %d is empty: %+v", i, s)
		}
		if i > 0 && s.Start != segs[i-1].End {
			t.Fatalf("gap/overlap between %d and %d: %+v %+v", i-1, i, segs[i-1], s)
		}
	}
	if last := segs[len(segs)-1].End; last != duration {
		t.Fatalf("last end = %v, want %v", last, duration)
	}
}

func TestPlanShortAudioIsSingleSegment(t *testing.T) {
	for _, d := range []float64{0.5, 120, 599.99, 600} {
		segs := Plan(d, 600)
		if len(segs) != 1 {
			t.Fatalf("Plan(%v) = %d segments, want 1", d, len(segs))
		}
		if segs[0].Start != 0 || segs[0].End != d {
			t.Fatalf("Plan(%v) = %+v", d, segs[0])
		}
	}
}

func TestPlanLongAudio(t *testing.T) {
	cases := []float64{600.5, 1080, 1200, 1799.9, 3600, 7203.25}
	for _, d := range cases {
		segs := Plan(d, 600)
		want := int(math.Ceil(d / 600))
		if len(segs) != want {
			t.Fatalf("Plan(%v) = %d segments, want %d", d, len(segs), want)
		}
		for _, s := range segs[:len(segs)-1] {
			if s.Length() != 600 {
				t.Fatalf("Plan(%v): non-final segment length %v", d, s.Length())
			}
		}
		assertContiguous(t, segs, d)
	}
}

func TestPlanEighteenMinutes(t *testing.T) {
	segs := Plan(1080, 600)
	if len(segs) != 2 {
		t.Fatalf("segments = %d, want 2", len(segs))
	}
	if segs[0].Length() != 600 || segs[1].Length() != 480 {
		t.Fatalf("lengths = %v, %v", segs[0].Length(), segs[1].Length())
	}
}

func TestPlanIgnoresFloatingTail(t *testing.T) {
	segs := Plan(1200.0004, 600)
	if len(segs) != 2 {
		t.Fatalf("segments = %d, want 2", len(segs))
	}
	assertContiguous(t, segs, 1200.0004)
}

func TestPlanRejectsInvalidDuration(t *testing.T) {
	for _, d := range []float64{math.Inf(1), math.Inf(-1), math.NaN(), -1} {
		if segs := Plan(d, 600); segs != nil {
			t.Fatalf("Plan(%v) = %+v, want nil", d, segs)
		}
	}
}

func TestSplitRejectsInfiniteDuration(t *testing.T) {
	runner := &fakeRunner{}
	s := NewAudioSplitter(600, "ffmpeg", fixedProber{seconds: math.Inf(1)}, runner, nil)

	segs, err := s.Split(context.Background(), "x.mp3")
	if !errors.Is(err, apperr.ErrSegmentation) || segs != nil {
		t.Fatalf("Split() = %v, %v, want segmentation error", segs, err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("ffmpeg should not run: %v", runner.calls)
	}
}

func TestSplitShortAudioReturnsOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.wav")
	mustWrite(t, path, "wav")
	runner := &fakeRunner{}

	s := NewAudioSplitter(600, "ffmpeg", fixedProber{seconds: 600}, runner, nil)
	segs, err := s.Split(context.Background(), path)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(segs) != 1 || segs[0].FilePath != path || segs[0].End != 600 {
		t.Fatalf("segments = %+v", segs)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("short audio must not be re-encoded, calls=%v", runner.calls)
	}

	if err := s.Cleanup(segs); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("original must survive cleanup: %v", err)
	}
}

func TestSplitExportsEachWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meeting.m4a")
	mustWrite(t, path, "m4a")
	runner := writingRunner(t)

	s := NewAudioSplitter(600, "ffmpeg", fixedProber{seconds: 1500}, runner, nil)
	segs, err := s.Split(context.Background(), path)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("segments = %d, want 3", len(segs))
	}
	assertContiguous(t, segs, 1500)

	for i, seg := range segs {
		want := filepath.Join(dir, "segments", "meeting_part_00"+string(rune('0'+i))+".mp3")
		if seg.FilePath != want {
			t.Fatalf("segment %d path = %q, want %q", i, seg.FilePath, want)
		}
		if _, err := os.Stat(seg.FilePath); err != nil {
			t.Fatalf("segment file missing: %v", err)
		}
	}

	last := runner.calls[2]
	if argAfter(last, "-ss") != "1200.00" || argAfter(last, "-t") != "300.00" || argAfter(last, "-acodec") != "libmp3lame" {
		t.Fatalf("last ffmpeg args = %v", last)
	}

	if err := s.Cleanup(segs); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "segments")); !os.IsNotExist(err) {
		t.Fatalf("segments dir should be removed, stat err = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("original must survive cleanup: %v", err)
	}
}

func TestSplitFailureLeavesNoSegments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "long.mp3")
	mustWrite(t, path, "mp3")

	call := 0
	runner := &fakeRunner{run: func(name string, args []string) (audio.CommandResult, error) {
		call++
		if call == 2 {
			return audio.CommandResult{Stderr: "boom", ExitCode: 1}, errors.New("exit status 1")
		}
		mustWrite(t, args[len(args)-1], "mp3")
		return audio.CommandResult{}, nil
	}}

	s := NewAudioSplitter(600, "ffmpeg", fixedProber{seconds: 1800}, runner, nil)
	segs, err := s.Split(context.Background(), path)
	if segs != nil {
		t.Fatalf("partial segments returned: %+v", segs)
	}
	if !errors.Is(err, apperr.ErrSegmentation) {
		t.Fatalf("error = %v, want ErrSegmentation", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "segments")); !os.IsNotExist(err) {
		t.Fatalf("segments dir should be removed, stat err = %v", err)
	}
}

func TestSplitProbeFailure(t *testing.T) {
	probeErr := apperr.New(apperr.ErrDecode, "", errors.New("invalid data"))
	s := NewAudioSplitter(600, "ffmpeg", fixedProber{err: probeErr}, &fakeRunner{}, nil)

	_, err := s.Split(context.Background(), "x.mp3")
	if !errors.Is(err, apperr.ErrSegmentation) || !errors.Is(err, apperr.ErrDecode) {
		t.Fatalf("error = %v, want segmentation wrapping decode", err)
	}
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
