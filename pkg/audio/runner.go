package audio

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// CommandResult 外部命令的执行结果
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner 抽象外部命令执行（ffmpeg/ffprobe），方便测试替换
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner 通过 os/exec 执行命令
type ExecRunner struct{}

// Run 执行命令并捕获 stdout/stderr 和退出码
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}
