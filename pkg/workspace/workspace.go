package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Workspace 单个请求的工作目录 <root>/<user>/<id>/
// 由 New 创建，Close 删除；并发请求之间互不共享文件
type Workspace struct {
	dir string
}

// New 创建请求工作目录
func New(root, user, id string) (*Workspace, error) {
	if id == "" {
		return nil, errors.New("workspace id is empty")
	}
	dir := filepath.Join(root, safeName(user), safeName(id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建工作目录失败: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir 工作目录路径
func (w *Workspace) Dir() string {
	return w.dir
}

// SaveUpload 把上传的数据保存到工作目录，返回文件路径和字节数
// 写入失败时不保留不完整的文件
func (w *Workspace) SaveUpload(filename string, r io.Reader) (string, int64, error) {
	name := safeName(filepath.Base(filename))
	path := filepath.Join(w.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("创建文件失败: %w", err)
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("保存上传文件失败: %w", err)
	}
	return path, n, nil
}

// Close 删除整个工作目录
func (w *Workspace) Close() error {
	if w == nil || w.dir == "" {
		return nil
	}
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("删除工作目录失败: %w", err)
	}
	// 用户目录空了顺便删掉，非空时 Remove 会失败，忽略即可
	_ = os.Remove(filepath.Dir(w.dir))
	return nil
}

// PurgeResult 清理结果
type PurgeResult struct {
	Deleted []string `json:"deleted"`
	Errors  []string `json:"errors"`
}

// Purge 清空给定目录下的所有内容（目录本身保留）
// 单个文件删除失败只记录，不中断
func Purge(dirs ...string) PurgeResult {
	result := PurgeResult{Deleted: []string{}, Errors: []string{}}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", dir, err))
			continue
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			if err := os.RemoveAll(path); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
				continue
			}
			result.Deleted = append(result.Deleted, path)
		}
	}
	return result
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
