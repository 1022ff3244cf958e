package templates

import (
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"time"

	"github.com/z-wentao/okoshi/pkg/models"
	"github.com/z-wentao/okoshi/pkg/report"
)

// IndexData /ui 页面数据
type IndexData struct {
	Jobs          []*models.TranscriptionJob
	Reports       []report.Entry
	AllowedFormat string
	MaxSizeMB     int64
	Now           time.Time
}

// FormatTime 相对时间（日文）
func FormatTime(t, now time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "たった今"
	case diff < time.Hour:
		return fmt.Sprintf("%d分前", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d時間前", int(diff.Hours()))
	}
	return t.Format("2006-01-02 15:04")
}

// StatusLabel 任务状态的显示文本
func StatusLabel(status models.JobStatus) string {
	switch status {
	case models.StatusPending:
		return "待機中"
	case models.StatusProcessing:
		return "処理中"
	case models.StatusCompleted:
		return "完了"
	case models.StatusFailed:
		return "失敗"
	}
	return "不明"
}

// ResultURL 报告的下载地址
func ResultURL(path string) string {
	if path == "" {
		return ""
	}
	return "/result/" + filepath.Base(path)
}

var funcs = template.FuncMap{
	"status":    StatusLabel,
	"resultURL": ResultURL,
	"ago": func(t time.Time, now time.Time) string {
		return FormatTime(t, now)
	},
	"kb": func(size int64) string {
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	},
}

var index = template.Must(template.New("index").Funcs(funcs).Parse(indexHTML))

// RenderIndex 渲染 /ui 页面
func RenderIndex(w io.Writer, data IndexData) error {
	if data.Now.IsZero() {
		data.Now = time.Now()
	}
	return index.Execute(w, data)
}

const indexHTML = `<!DOCTYPE html>
<html lang="ja">
<head>
<meta charset="utf-8">
<title>音声文字起こし</title>
</head>
<body>
<h1>音声文字起こし</h1>

<form action="/api/jobs" method="post" enctype="multipart/form-data">
<p><label>部署名・氏名: <input type="text" name="user" required></label></p>
<p><label>音声ファイル: <input type="file" name="audio_file" required></label></p>
<p><small>対応形式: {{.AllowedFormat}}（最大 {{.MaxSizeMB}}MB）</small></p>
<p><button type="submit">アップロード</button></p>
</form>

<h2>ジョブ</h2>
{{if not .Jobs}}<p>ジョブはまだありません。</p>{{end}}
{{range .Jobs}}
<div class="job" id="job-{{.JobID}}" data-status="{{.Status}}">
<hr>
<p><strong>{{.Filename}}</strong>（{{.User}}）</p>
<p>状態: <strong>{{status .Status}}</strong>{{if gt .Progress 0}} | 進捗: {{.Progress}}%{{end}} | {{ago .CreatedAt $.Now}}</p>
{{if .ReportPath}}<p><a href="{{resultURL .ReportPath}}">📥 結果をダウンロード</a>
{{if .SubtitlePath}} <a href="{{resultURL .SubtitlePath}}">SRT</a>{{end}}
{{if .VTTPath}} <a href="{{resultURL .VTTPath}}">VTT</a>{{end}}</p>{{end}}
{{if .Warning}}<p>{{.Warning}}</p>{{end}}
{{if .Error}}<p><strong>エラー:</strong> {{.Error}}</p>{{end}}
</div>
{{end}}

<h2>結果ファイル</h2>
<ul>
{{range .Reports}}<li><a href="/result/{{.Name}}">{{.Name}}</a> ({{kb .Size}})</li>
{{else}}<li>なし</li>
{{end}}</ul>
</body>
</html>
`
