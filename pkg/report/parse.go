package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/z-wentao/okoshi/pkg/apperr"
)

// Report 从报告文件中解析出的内容
type Report struct {
	User             string    `json:"user"`
	OriginalFilename string    `json:"original_filename"`
	ProcessedAt      time.Time `json:"processed_at"`
	CompletedAt      time.Time `json:"completed_at"`
	Duration         float64   `json:"duration"`
	ProcessingTime   float64   `json:"processing_time"`
	SegmentCount     int       `json:"segment_count"`
	Warning          string    `json:"warning,omitempty"`
	CombinedText     string    `json:"combined_text"`
	PhraseLines      []string  `json:"phrase_lines"`
}

// Parse 解析 Render 生成的报告
func Parse(r io.Reader) (*Report, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("读取报告失败: %w", err)
	}
	content := string(data)

	textStart := strings.Index(content, "\n"+textMarker+"\n")
	if !strings.HasPrefix(content, titleLine+"\n") || textStart < 0 {
		return nil, apperr.New(apperr.ErrDecode, "", fmt.Errorf("不是转写报告"))
	}
	phraseStart := strings.LastIndex(content, "\n\n"+phraseMarker+"\n"+phraseRule+"\n")
	completedAt := strings.LastIndex(content, "\n処理完了: ")
	if phraseStart < textStart || completedAt < phraseStart {
		return nil, apperr.New(apperr.ErrDecode, "", fmt.Errorf("报告结构不完整"))
	}

	rep := &Report{}
	if err := rep.parseHeader(content[:textStart]); err != nil {
		return nil, err
	}

	rep.CombinedText = content[textStart+len(textMarker)+2 : phraseStart]

	// 句子区块以一个空行结束
	block := content[phraseStart+len(phraseMarker)+len(phraseRule)+4 : completedAt]
	lines := strings.Split(block, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	rep.PhraseLines = lines

	footer := strings.TrimSpace(content[completedAt+len("\n処理完了: "):])
	if t, err := time.ParseInLocation(timeLayout, footer, time.Local); err == nil {
		rep.CompletedAt = t
	}
	return rep, nil
}

func (r *Report) parseHeader(header string) error {
	for _, line := range strings.Split(header, "\n") {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		var err error
		switch key {
		case "登録者":
			r.User = value
		case "元ファイル":
			r.OriginalFilename = value
		case "処理日時":
			r.ProcessedAt, err = time.ParseInLocation(timeLayout, value, time.Local)
		case "音声長":
			r.Duration, err = strconv.ParseFloat(strings.TrimSuffix(value, "秒"), 64)
		case "処理時間":
			r.ProcessingTime, err = strconv.ParseFloat(strings.TrimSuffix(value, "秒"), 64)
		case "セグメント数":
			r.SegmentCount, err = strconv.Atoi(value)
		case "注意事項":
			r.Warning = value
		}
		if err != nil {
			return apperr.New(apperr.ErrDecode, "", fmt.Errorf("解析报告头 %s 失败: %w", key, err))
		}
	}
	return nil
}
