//go:build unix

package utils

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"
)

// SetNewPG 子进程放到独立的进程组
func SetNewPG(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

/**
 * Parse ps elapsed time ([[dd-]hh:]mm:ss) into a duration
 * @param {string} etime - ps etime column
 * @returns {time.Duration} elapsed time
 * @returns {bool} false when the value cannot be parsed
 */
func ParseElapsed(etime string) (time.Duration, bool) {
	days := 0
	if idx := strings.Index(etime, "-"); idx >= 0 {
		d, err := strconv.Atoi(etime[:idx])
		if err != nil {
			return 0, false
		}
		days = d
		etime = etime[idx+1:]
	}
	parts := strings.Split(etime, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, false
		}
		total = total*60 + n
	}
	return time.Duration(days)*24*time.Hour + time.Duration(total)*time.Second, true
}

/**
 * Parse the output of `ps -e -o pid=,stat=,etime=,command=`
 * @param {string} output - raw ps output
 * @param {string} processName - executable name filter, case insensitive
 * @param {time.Time} now - reference time used to compute create_time
 * @returns {[]models.OSProcess} matching processes, the caller itself excluded
 */
func ParsePsOutput(output string, processName string, now time.Time) []models.OSProcess {
	selfPid := os.Getpid()
	var procs []models.OSProcess
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil || pid == selfPid {
			continue
		}
		name := Path2ProcessName(fields[3])
		if !strings.EqualFold(name, Path2ProcessName(processName)) {
			continue
		}
		p := models.OSProcess{
			Pid:     pid,
			Name:    name,
			Status:  fields[1],
			Cmdline: strings.Join(fields[3:], " "),
		}
		if elapsed, ok := ParseElapsed(fields[2]); ok {
			p.CreateTime = float64(now.Add(-elapsed).Unix())
		}
		procs = append(procs, p)
	}
	return procs
}

/**
 * List OS processes whose executable matches processName
 * @param {string} processName - executable name, e.g. "cloudflared"
 * @returns {[]models.OSProcess} matching processes
 * @returns {error} ps execution error
 * @description
 * - Uses a ps format that works on both Linux and Darwin
 */
func ListProcesses(processName string) ([]models.OSProcess, error) {
	output, err := exec.Command("ps", "-e", "-o", "pid=,stat=,etime=,command=").Output()
	if err != nil {
		return nil, fmt.Errorf("list processes failed: %w", err)
	}
	return ParsePsOutput(string(output), processName, time.Now()), nil
}

/**
 * Kill processes by executable name whose command line contains a marker
 * @param {string} processName - executable name
 * @param {string} marker - substring required in the command line, empty matches all
 * @returns {int} number of processes killed
 * @returns {error} enumeration error, or the last kill failure
 * @description
 * - Quick tunnels run with "--url", the system service runs "tunnel run", so
 *   a marker keeps the service instance alive
 */
func KillProcessesMatching(processName, marker string) (int, error) {
	procs, err := ListProcesses(processName)
	if err != nil {
		logger.Errorf("Failed to list processes for %s: %v", processName, err)
		return 0, err
	}
	var last error
	killed := 0
	for _, p := range procs {
		if marker != "" && !strings.Contains(p.Cmdline, marker) {
			continue
		}
		if err := killProcessGracefully(p.Pid, processName); err != nil {
			logger.Errorf("Failed to kill process %s (PID: %d): %v", processName, p.Pid, err)
			last = err
			continue
		}
		killed++
		logger.Infof("Successfully killed process %s (PID: %d)", processName, p.Pid)
	}
	return killed, last
}

/**
 * Kill process gracefully with SIGTERM first, then SIGKILL if needed
 * @param {int} pid - Process ID to kill
 * @param {string} procName - Process name for logging
 * @returns {error} Returns error if process killing fails, nil on success
 */
func killProcessGracefully(pid int, procName string) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %s (PID: %d): %v", procName, pid, err)
	}

	// 首先尝试优雅终止 (SIGTERM)
	logger.Debugf("Attempting graceful termination of process %s (PID: %d)", procName, pid)
	if err = process.Signal(syscall.SIGTERM); err == nil {
		for i := 0; i < 30; i++ {
			if err := process.Signal(syscall.Signal(0)); err != nil {
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
	}

	logger.Warnf("Graceful termination failed, force killing process %s (PID: %d)", procName, pid)
	if err = process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process %s (PID: %d): %v", procName, pid, err)
	}
	return nil
}
