package templates

import (
	"strings"
	"testing"
	"time"

	"github.com/z-wentao/okoshi/pkg/models"
	"github.com/z-wentao/okoshi/pkg/report"
)

func TestFormatTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		at   time.Time
		want string
	}{
		{now.Add(-10 * time.Second), "たった今"},
		{now.Add(-5 * time.Minute), "5分前"},
		{now.Add(-3 * time.Hour), "3時間前"},
		{now.Add(-48 * time.Hour), "2025-05-30 12:00"},
	}
	for _, c := range cases {
		if got := FormatTime(c.at, now); got != c.want {
			t.Fatalf("FormatTime(%v) = %q, want %q", c.at, got, c.want)
		}
	}
}

func TestRenderIndexEscapesAndLinks(t *testing.T) {
	now := time.Now()
	var b strings.Builder
	err := RenderIndex(&b, IndexData{
		Jobs: []*models.TranscriptionJob{{
			JobID:      "j1",
			User:       "<script>alert(1)</script>",
			Filename:   "会議.m4a",
			Status:     models.StatusCompleted,
			Progress:   100,
			ReportPath: "transcription_results/u_20250101_000000_会議_transcription.txt",
			CreatedAt:  now,
		}},
		Reports:       []report.Entry{{Name: "a_transcription.txt", Size: 2048}},
		AllowedFormat: ".mp3, .wav",
		MaxSizeMB:     500,
		Now:           now,
	})
	if err != nil {
		t.Fatalf("RenderIndex() error = %v", err)
	}

	html := b.String()
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Fatal("user label must be escaped")
	}
	for _, want := range []string{"完了", "進捗: 100%", "/result/u_20250101_000000_", "a_transcription.txt", "2.0 KB", "最大 500MB"} {
		if !strings.Contains(html, want) {
			t.Fatalf("page missing %q", want)
		}
	}
}

func TestRenderIndexEmpty(t *testing.T) {
	var b strings.Builder
	if err := RenderIndex(&b, IndexData{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(b.String(), "ジョブはまだありません") {
		t.Fatal("empty job list message missing")
	}
}
