package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/z-wentao/okoshi/pkg/apperr"
	"github.com/z-wentao/okoshi/pkg/logger"
	"github.com/z-wentao/okoshi/pkg/models"
)

// 允许上传的扩展名
var allowedExtensions = map[string]bool{
	".m4a":  true,
	".mp3":  true,
	".webm": true,
	".mp4":  true,
	".mpga": true,
	".wav":  true,
	".mpeg": true,
	".wma":  true,
}

const (
	DefaultMaxSizeBytes = 500 * 1024 * 1024
	DefaultMaxDuration  = 120 * time.Minute
)

// AllowedExtension 文件扩展名是否在允许列表中
func AllowedExtension(filename string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// AllowedExtensionList 允许的扩展名（用于错误提示）
func AllowedExtensionList() string {
	return ".m4a, .mp3, .webm, .mp4, .mpga, .wav, .mpeg, .wma"
}

// Options Inspector 配置
type Options struct {
	FFprobePath    string
	FFmpegPath     string
	MaxSizeBytes   int64
	MaxDuration    time.Duration
	StrictDuration bool
}

// Inspector 音频检查器：校验格式、大小、时长
// 只读探测，不修改文件（ConvertToMP3 除外）
type Inspector struct {
	opts   Options
	runner CommandRunner
	stat   func(name string) (os.FileInfo, error)
	log    *logger.Logger
}

// NewInspector 创建检查器
func NewInspector(opts Options, runner CommandRunner, log *logger.Logger) *Inspector {
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.MaxSizeBytes <= 0 {
		opts.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = DefaultMaxDuration
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Inspector{
		opts:   opts,
		runner: runner,
		stat:   os.Stat,
		log:    log.With("component", "AudioInspector"),
	}
}

// Validate 校验音频文件，返回是否有效以及可直接展示给用户的说明
func (in *Inspector) Validate(ctx context.Context, path string) (bool, string) {
	info, err := in.stat(path)
	if err != nil || info.IsDir() {
		return false, "ファイルが見つかりません。"
	}

	if info.Size() > in.opts.MaxSizeBytes {
		return false, fmt.Sprintf("ファイルサイズが上限（%dMB）を超えています。", in.opts.MaxSizeBytes/1024/1024)
	}

	duration, err := in.Duration(ctx, path)
	if err != nil {
		in.log.Warn("音频解码失败", "path", path, "error", err)
		return false, fmt.Sprintf("オーディオファイルをデコードできませんでした。ファイル形式が不正であるか、破損している可能性があります。FFmpegのエラー: %v", err)
	}

	if in.opts.StrictDuration && duration > in.opts.MaxDuration.Seconds() {
		return false, fmt.Sprintf("音声の長さが上限（%d分）を超えています。", int(in.opts.MaxDuration.Minutes()))
	}

	return true, "ファイルは有効です。"
}

// Duration 获取音频时长（秒）
// ffprobe 无法解析时返回 apperr.ErrDecode
func (in *Inspector) Duration(ctx context.Context, path string) (float64, error) {
	// ffprobe -v error -show_entries format=duration -of default=noprint_wrappers=1:nokey=1 input.mp3
	res, err := in.runner.Run(ctx, in.opts.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, apperr.New(apperr.ErrDecode, "", fmt.Errorf("ffprobe 执行失败: %w (stderr: %s)", err, strings.TrimSpace(res.Stderr)))
	}

	out := strings.TrimSpace(res.Stdout)
	if out == "" || out == "N/A" {
		return 0, apperr.New(apperr.ErrDecode, "", fmt.Errorf("ffprobe 未返回时长信息 (stderr: %s)", strings.TrimSpace(res.Stderr)))
	}

	duration, err := strconv.ParseFloat(out, 64)
	if err != nil || duration < 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return 0, apperr.New(apperr.ErrDecode, "", fmt.Errorf("解析时长失败: %v (output: %s)", err, out))
	}

	return duration, nil
}

// Inspect 生成 AudioArtifact（含时长）
func (in *Inspector) Inspect(ctx context.Context, path, user string) (models.AudioArtifact, error) {
	info, err := in.stat(path)
	if err != nil {
		return models.AudioArtifact{}, fmt.Errorf("读取文件信息失败: %w", err)
	}
	duration, err := in.Duration(ctx, path)
	if err != nil {
		return models.AudioArtifact{}, err
	}
	return models.AudioArtifact{
		Path:     path,
		User:     user,
		Format:   strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		Size:     info.Size(),
		Duration: duration,
	}, nil
}

// ConvertToMP3 非 MP3 文件转码为 MP3，成功后删除原文件，返回新路径
func (in *Inspector) ConvertToMP3(ctx context.Context, path string) (string, error) {
	if strings.ToLower(filepath.Ext(path)) == ".mp3" {
		return path, nil
	}

	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".mp3"
	in.log.Info("转码为 MP3", "from", path, "to", out)

	// ffmpeg -y -i input -vn -acodec libmp3lame -ab 128k output.mp3
	res, err := in.runner.Run(ctx, in.opts.FFmpegPath,
		"-y",
		"-i", path,
		"-vn",
		"-acodec", "libmp3lame",
		"-ab", "128k",
		out,
	)
	if err != nil {
		_ = os.Remove(out)
		return "", apperr.New(apperr.ErrDecode, "", fmt.Errorf("MP3 转码失败: %w (stderr: %s)", err, strings.TrimSpace(res.Stderr)))
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		in.log.Warn("删除原文件失败", "path", path, "error", err)
	}
	return out, nil
}
