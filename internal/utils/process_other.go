//go:build !unix

package utils

import (
	"errors"
	"os/exec"

	"tunnel-keeper/internal/models"
)

var errUnsupported = errors.New("not supported on this platform")

// SetNewPG 默认实现，用于不支持的构建目标
func SetNewPG(cmd *exec.Cmd) {
}

func ListProcesses(processName string) ([]models.OSProcess, error) {
	return nil, errUnsupported
}

func KillProcessesMatching(processName, marker string) (int, error) {
	return 0, errUnsupported
}
