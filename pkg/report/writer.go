package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/z-wentao/okoshi/pkg/apperr"
	"github.com/z-wentao/okoshi/pkg/logger"
	"github.com/z-wentao/okoshi/pkg/models"
)

// 报告中的固定分隔行
const (
	titleLine        = "音声文字起こし結果"
	ruleLine         = "=================================================="
	textMarker       = "--- 全体書き起こし内容 ---"
	phraseMarker     = "--- セグメントごとのタイムスタンプとテキスト ---"
	phraseRule       = "------------------------------------"
	timeLayout       = "2006-01-02 15:04:05"
	fileTimeLayout   = "20060102_150405"
	filenameSuffix   = "_transcription.txt"
	maxNameConflicts = 100
)

// Writer 把合并后的转写结果写成文本报告
type Writer struct {
	dir string
	now func() time.Time
	log *logger.Logger
}

func NewWriter(dir string, log *logger.Logger) *Writer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Writer{dir: dir, now: time.Now, log: log}
}

// Dir 报告目录
func (w *Writer) Dir() string {
	return w.dir
}

// Write 写入报告并返回文件路径
// 写入是原子的：先写临时文件再链接到最终文件名，失败时不会留下半个文件
func (w *Writer) Write(user, originalFilename string, agg models.AggregatedTranscript) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", apperr.New(apperr.ErrPersistence, "", fmt.Errorf("创建报告目录失败: %w", err))
	}

	started := w.now()
	content := Render(user, originalFilename, agg, started, w.now())

	tmp, err := os.CreateTemp(w.dir, ".report-*.tmp")
	if err != nil {
		return "", apperr.New(apperr.ErrPersistence, "", fmt.Errorf("创建临时文件失败: %w", err))
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return "", apperr.New(apperr.ErrPersistence, "", fmt.Errorf("写入报告失败: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", apperr.New(apperr.ErrPersistence, "", fmt.Errorf("同步报告失败: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return "", apperr.New(apperr.ErrPersistence, "", fmt.Errorf("关闭报告失败: %w", err))
	}

	base := Filename(user, originalFilename, started)
	stem := strings.TrimSuffix(base, filenameSuffix)
	for i := 0; i < maxNameConflicts; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, i, filenameSuffix)
		}
		target := filepath.Join(w.dir, name)

		// Link 在目标已存在时失败，不会覆盖旧报告
		err := os.Link(tmpPath, target)
		if err == nil {
			w.log.Info("报告已保存", "path", target, "user", user)
			return target, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", apperr.New(apperr.ErrPersistence, "", fmt.Errorf("保存报告失败: %w", err))
		}
	}
	return "", apperr.New(apperr.ErrPersistence, "", fmt.Errorf("报告文件名冲突过多: %s", base))
}

// Filename 生成 <user>_<YYYYMMDD_HHMMSS>_<stem>_transcription.txt
func Filename(user, originalFilename string, at time.Time) string {
	stem := strings.TrimSuffix(filepath.Base(originalFilename), filepath.Ext(originalFilename))
	return fmt.Sprintf("%s_%s_%s%s", sanitize(user), at.Format(fileTimeLayout), sanitize(stem), filenameSuffix)
}

// Render 生成报告文本
func Render(user, originalFilename string, agg models.AggregatedTranscript, processedAt, completedAt time.Time) string {
	parts := []string{
		titleLine,
		ruleLine,
		"登録者: " + singleLine(user),
		"元ファイル: " + singleLine(originalFilename),
		"処理日時: " + processedAt.Format(timeLayout),
		fmt.Sprintf("音声長: %.1f秒", agg.TotalDuration),
		fmt.Sprintf("処理時間: %.1f秒", agg.TotalProcessingTime),
		fmt.Sprintf("セグメント数: %d", agg.SegmentCount),
		"",
	}
	if agg.Warning != "" {
		parts = append(parts, "注意事項: "+agg.Warning, "")
	}
	parts = append(parts, textMarker, agg.CombinedText, "", phraseMarker, phraseRule)
	parts = append(parts, agg.PhraseLines...)
	parts = append(parts, "", "処理完了: "+completedAt.Format(timeLayout))
	return strings.Join(parts, "\n")
}

// singleLine 头部字段必须占一行，控制字符替换为空格
func singleLine(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)
}

// sanitize 去掉路径分隔符等不能出现在文件名里的字符
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, s)
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		return "unknown"
	}
	return s
}
