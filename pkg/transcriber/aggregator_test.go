package transcriber

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/z-wentao/okoshi/pkg/models"
)

func success(index int, start float64, text string, phrases ...models.TimedPhrase) models.TranscriptionOutcome {
	seg := models.Segment{Index: index, FilePath: "part_" + string(rune('0'+index)) + ".mp3", Start: start, End: start + 600}
	return models.NewSuccessOutcome(seg, text, "japanese", 600, 2*time.Second, phrases)
}

func failure(index int, start float64) models.TranscriptionOutcome {
	seg := models.Segment{Index: index, FilePath: "part_" + string(rune('0'+index)) + ".mp3", Start: start, End: start + 600}
	return models.NewFailureOutcome(seg, time.Second, errors.New("timeout"))
}

func TestCombineAllFailed(t *testing.T) {
	got := Combine([]models.TranscriptionOutcome{failure(0, 0), failure(1, 600)}, CombineOptions{})

	if got.Success {
		t.Fatal("all-failed transcript must not be successful")
	}
	if got.CombinedText != "" || got.SegmentCount != 0 || len(got.PhraseLines) != 0 {
		t.Fatalf("unexpected content: %+v", got)
	}
	if got.TotalDuration != 0 || got.TotalProcessingTime != 0 {
		t.Fatalf("totals = %v / %v", got.TotalDuration, got.TotalProcessingTime)
	}
	if got.Error != "すべての文字起こしが失敗しました" {
		t.Fatalf("error = %q", got.Error)
	}
}

func TestCombineMixedBatch(t *testing.T) {
	outcomes := []models.TranscriptionOutcome{
		success(0, 0, "前半です。",
			models.TimedPhrase{Start: 0, End: 4, Text: " 前半"},
			models.TimedPhrase{Start: 4, End: 8, Text: "です。"}),
		failure(1, 600),
		success(2, 1200, "最後です。",
			models.TimedPhrase{Start: 1, End: 3, Text: "最後です。"}),
	}

	got := Combine(outcomes, CombineOptions{})
	if !got.Success {
		t.Fatal("partial success must be successful")
	}
	if got.FailedCount != 1 || got.SuccessCount != 2 {
		t.Fatalf("counts = %d failed / %d ok", got.FailedCount, got.SuccessCount)
	}
	if !strings.Contains(got.Warning, "1") {
		t.Fatalf("warning = %q", got.Warning)
	}
	if got.SegmentCount != 3 {
		t.Fatalf("segment count = %d, want 3 phrases", got.SegmentCount)
	}
	if got.TotalDuration != 1200 {
		t.Fatalf("duration = %v, want only successful outcomes", got.TotalDuration)
	}
	if got.TotalProcessingTime != 4 {
		t.Fatalf("processing = %v", got.TotalProcessingTime)
	}

	wantText := "\n--- セグメント 1 ---\n前半です。\n\n\n--- セグメント 3 ---\n最後です。"
	if got.CombinedText != wantText {
		t.Fatalf("combined text = %q, want %q", got.CombinedText, wantText)
	}
}

func TestCombineSingleOutcomeHasNoHeader(t *testing.T) {
	got := Combine([]models.TranscriptionOutcome{
		success(0, 0, "  一つだけ  ", models.TimedPhrase{Start: 61, End: 125.9, Text: "一つだけ"}),
	}, CombineOptions{})

	if got.CombinedText != "一つだけ" {
		t.Fatalf("combined text = %q", got.CombinedText)
	}
	if len(got.PhraseLines) != 1 || got.PhraseLines[0] != "[01:01 - 02:05] 一つだけ" {
		t.Fatalf("lines = %q", got.PhraseLines)
	}
	if got.Warning != "" {
		t.Fatalf("warning = %q", got.Warning)
	}
}

func TestCombineSortsOutOfOrderOutcomes(t *testing.T) {
	outcomes := []models.TranscriptionOutcome{
		success(2, 1200, "C", models.TimedPhrase{Start: 0, End: 1, Text: "c"}),
		success(0, 0, "A", models.TimedPhrase{Start: 0, End: 1, Text: "a"}),
		success(1, 600, "B", models.TimedPhrase{Start: 0, End: 1, Text: "b"}),
	}

	got := Combine(outcomes, CombineOptions{})
	want := []string{"[00:00 - 00:01] a", "[00:00 - 00:01] b", "[00:00 - 00:01] c"}
	for i := range want {
		if got.PhraseLines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, got.PhraseLines[i], want[i])
		}
	}
	if strings.Index(got.CombinedText, "A") > strings.Index(got.CombinedText, "C") {
		t.Fatalf("text out of order: %q", got.CombinedText)
	}
	if outcomes[0].Segment.Index != 2 {
		t.Fatal("input slice must not be reordered")
	}
}

func TestCombineTimelineModes(t *testing.T) {
	outcomes := []models.TranscriptionOutcome{
		success(0, 0, "a", models.TimedPhrase{Start: 10, End: 12, Text: "a"}),
		success(1, 600, "b", models.TimedPhrase{Start: 3, End: 7, Text: "b"}),
	}

	local := Combine(outcomes, CombineOptions{})
	if local.PhraseLines[1] != "[00:03 - 00:07] b" {
		t.Fatalf("local line = %q", local.PhraseLines[1])
	}

	global := Combine(outcomes, CombineOptions{GlobalTimeline: true})
	if global.PhraseLines[1] != "[10:03 - 10:07] b" {
		t.Fatalf("global line = %q", global.PhraseLines[1])
	}

	// 字幕用的 Phrases 始终是全局时间轴
	if local.Phrases[1].Start != 603 || global.Phrases[1].End != 607 {
		t.Fatalf("phrases = %+v / %+v", local.Phrases[1], global.Phrases[1])
	}
}

func TestCombineFlattensMultilinePhrase(t *testing.T) {
	got := Combine([]models.TranscriptionOutcome{
		success(0, 0, "x", models.TimedPhrase{Start: 0, End: 1, Text: "一行目\n二行目 "}),
	}, CombineOptions{})
	if got.PhraseLines[0] != "[00:00 - 00:01] 一行目 二行目" {
		t.Fatalf("line = %q", got.PhraseLines[0])
	}
}

func TestFormatTimestamp(t *testing.T) {
	cases := map[float64]string{0: "00:00", 59.99: "00:59", 60: "01:00", 3725.4: "62:05", -1: "00:00"}
	for in, want := range cases {
		if got := FormatTimestamp(in); got != want {
			t.Fatalf("FormatTimestamp(%v) = %q, want %q", in, got, want)
		}
	}
}
