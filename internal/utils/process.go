package utils

import (
	"path/filepath"
	"strings"
)

// Path2ProcessName 从命令路径中取出进程名(去掉目录和.exe后缀)
func Path2ProcessName(path string) string {
	name := filepath.Base(strings.Trim(path, "\""))
	return strings.TrimSuffix(name, ".exe")
}
