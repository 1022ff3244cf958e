package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/z-wentao/okoshi/pkg/apperr"
)

// Resolve 把下载请求中的文件名解析为报告目录下的路径
// 解析后的路径必须仍在 dir 之内，否则返回 ErrPathSecurity
func Resolve(dir, name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", apperr.New(apperr.ErrPathSecurity, "不正なファイル名です", nil)
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return "", apperr.New(apperr.ErrPersistence, "", err)
	}
	target, err := filepath.Abs(filepath.Join(root, name))
	if err != nil {
		return "", apperr.New(apperr.ErrPersistence, "", err)
	}

	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", apperr.New(apperr.ErrPathSecurity, "不正なファイルパスです", fmt.Errorf("path escapes reports dir: %q", name))
	}

	// 符号链接也不能指向目录之外
	if resolved, err := filepath.EvalSymlinks(target); err == nil {
		realRoot, rootErr := filepath.EvalSymlinks(root)
		if rootErr == nil {
			if r, err := filepath.Rel(realRoot, resolved); err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
				return "", apperr.New(apperr.ErrPathSecurity, "不正なファイルパスです", fmt.Errorf("symlink escapes reports dir: %q", name))
			}
		}
	}

	info, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return "", apperr.New(apperr.ErrNotFound, "ファイルが見つかりません", err)
	}
	if err != nil {
		return "", apperr.New(apperr.ErrPersistence, "", err)
	}
	if info.IsDir() {
		return "", apperr.New(apperr.ErrNotFound, "ファイルが見つかりません", nil)
	}
	return target, nil
}

// Entry 报告目录中的一个文件
type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// List 列出报告目录中的报告，按修改时间倒序
// 目录不存在时返回空列表
func List(dir string) ([]Entry, error) {
	items, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取报告目录失败: %w", err)
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if item.IsDir() || !strings.HasSuffix(item.Name(), filenameSuffix) {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Name: item.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].ModTime.After(entries[j].ModTime)
	})
	return entries, nil
}
