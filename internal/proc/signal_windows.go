//go:build windows

package proc

import "os"

// windows没有SIGTERM，直接结束进程
func terminate(p *os.Process) error {
	return p.Kill()
}

func kill(p *os.Process) error {
	return p.Kill()
}
