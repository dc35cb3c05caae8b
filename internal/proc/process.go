package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/utils"
)

// ErrTerminationTimeout 进程在SIGTERM和SIGKILL之后都没有确认退出
var ErrTerminationTimeout = errors.New("process did not exit after terminate and kill")

/**
 * ProcessInstance 进程实例信息
 * @property {string} Title - 进程标题，用于显示
 * @property {string} ProcessName - 进程列表显示的进程名
 * @property {string} Command - 执行命令
 * @property {[]string} Args - 命令参数
 * @property {models.RunStatus} Status - 进程状态: running/exited/stopped/error
 * @property {time.Time} StartTime - 启动时间
 * @property {time.Time} LastExitTime - 最后退出时间
 * @property {string} LastExitReason - 最后退出原因
 * @description
 * - 一个实例只启动一次，重启需要新建实例
 * - stdout/stderr通过os.Pipe交给Stream读取，Wait不会关闭读端
 */
type ProcessInstance struct {
	Title          string           //显示用的名字
	ProcessName    string           //进程名，用于查找进程
	Command        string           //进程启动命令
	Args           []string         //进程参数
	WorkDir        string           //工作目录
	Status         models.RunStatus //状态
	StartTime      time.Time        //启动时间
	LastExitTime   time.Time        //最后一次退出的时间
	LastExitReason string           //最后一次退出的原因
	tailSize       int
	onExited       func(*ProcessInstance) //进程退出后的回调
	process        *os.Process
	stdout         *Stream
	stderr         *Stream
	exited         chan struct{}
	mutex          sync.Mutex
}

/**
 * NewProcessInstance 创建新的进程实例
 * @param {string} title - 进程标题
 * @param {string} procName - 进程名
 * @param {string} command - 执行命令
 * @param {[]string} args - 命令参数
 * @returns {ProcessInstance} 返回创建的进程实例
 */
func NewProcessInstance(title, procName, command string, args []string) *ProcessInstance {
	return &ProcessInstance{
		Title:       title,
		ProcessName: procName,
		Command:     command,
		Args:        args,
		Status:      models.StatusExited,
		tailSize:    defaultTailSize,
	}
}

// SetWatcher 设置进程退出回调，回调在锁外执行
func (pi *ProcessInstance) SetWatcher(onExited func(*ProcessInstance)) {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()
	pi.onExited = onExited
}

// SetTailSize 设置每个输出流保留的尾部行数
func (pi *ProcessInstance) SetTailSize(n int) {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()
	if n > 0 {
		pi.tailSize = n
	}
}

func (pi *ProcessInstance) Pid() int {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()
	if pi.process == nil {
		return 0
	}
	return pi.process.Pid
}

// Stdout 标准输出流，未启动时为nil
func (pi *ProcessInstance) Stdout() *Stream {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()
	return pi.stdout
}

// Stderr 标准错误流，未启动时为nil
func (pi *ProcessInstance) Stderr() *Stream {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()
	return pi.stderr
}

// Exited 进程退出时关闭
func (pi *ProcessInstance) Exited() <-chan struct{} {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()
	return pi.exited
}

/**
 * IsAlive 进程是否仍在运行
 * @returns {bool} 已启动且Wait尚未返回时为true
 * @description
 * - 以Wait协程观察到的退出为准，不依赖pid探测
 */
func (pi *ProcessInstance) IsAlive() bool {
	pi.mutex.Lock()
	exited := pi.exited
	pi.mutex.Unlock()
	if exited == nil {
		return false
	}
	select {
	case <-exited:
		return false
	default:
		return true
	}
}

func (pi *ProcessInstance) GetDetail() models.ProcessDetail {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	pid := 0
	if pi.process != nil {
		pid = pi.process.Pid
	}
	return models.ProcessDetail{
		Title:          pi.Title,
		ProcessName:    pi.ProcessName,
		Command:        pi.Command,
		Args:           pi.Args,
		Status:         pi.Status,
		Pid:            pid,
		StartTime:      pi.StartTime,
		LastExitTime:   pi.LastExitTime,
		LastExitReason: pi.LastExitReason,
	}
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}

/**
 * StartProcess 启动进程
 * @param {context.Context} ctx - 已取消的ctx不会再启动进程
 * @returns {error} 可执行文件不存在或系统拒绝创建进程时返回错误
 * @description
 * - 为stdout/stderr各创建一个管道，由Stream持续读取
 * - 子进程放入新的进程组，Ctrl-C不会直接打断它，由管理方负责停止
 * - 启动watch协程等待退出
 */
func (pi *ProcessInstance) StartProcess(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	if pi.exited != nil {
		return fmt.Errorf("process '%s' already started", pi.Title)
	}
	logger.Infof("Executing command: %s %s", pi.Command, strings.Join(pi.Args, " "))

	outR, outW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeFiles(outR, outW)
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	cmd := exec.Command(pi.Command, pi.Args...)
	if pi.WorkDir != "" {
		cmd.Dir = pi.WorkDir
	}
	cmd.Stdout = outW
	cmd.Stderr = errW
	utils.SetNewPG(cmd)

	if err := cmd.Start(); err != nil {
		closeFiles(outR, outW, errR, errW)
		pi.Status = models.StatusError
		pi.LastExitReason = fmt.Sprintf("start failed: %v", err)
		logger.Errorf("Failed to start process '%s', error: %v", pi.Title, err)
		return err
	}
	// 父进程不再持有写端，子进程退出后读端才能收到EOF
	closeFiles(outW, errW)

	pi.process = cmd.Process
	pi.Status = models.StatusRunning
	pi.StartTime = time.Now()
	pi.exited = make(chan struct{})
	pi.stdout = newStream("stdout", defaultLineBuffer, pi.tailSize)
	pi.stderr = newStream("stderr", defaultLineBuffer, pi.tailSize)
	go pi.stdout.pump(outR)
	go pi.stderr.pump(errR)
	go pi.watchProcess(cmd, pi.exited)

	logger.Infof("Process '%s' started (PID: %d)", pi.Title, cmd.Process.Pid)
	return nil
}

/**
 * watchProcess 等待进程退出并记录原因
 * @param {*exec.Cmd} cmd - 已启动的命令
 * @param {chan struct{}} exited - 退出后关闭
 */
func (pi *ProcessInstance) watchProcess(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()

	pi.mutex.Lock()
	pi.LastExitTime = time.Now()
	if pi.Status == models.StatusStopped {
		logger.Infof("Process '%s' (PID: %d) stopped", pi.Title, cmd.Process.Pid)
	} else {
		pi.Status = models.StatusExited
		if err != nil {
			logger.Warnf("Process '%s' (PID: %d) exited with error: %v", pi.Title, cmd.Process.Pid, err)
			pi.LastExitReason = fmt.Sprintf("exited with error: %v", err)
		} else {
			logger.Infof("Process '%s' (PID: %d) exited normally", pi.Title, cmd.Process.Pid)
			pi.LastExitReason = "exited normally"
		}
	}
	onExited := pi.onExited
	close(exited)
	pi.mutex.Unlock()

	if onExited != nil {
		onExited(pi)
	}
}

/**
 * StopProcess 停止进程，先优雅终止再强制杀死
 * @param {time.Duration} grace - 发送终止信号后的等待时间
 * @param {time.Duration} killWait - 发送kill后的等待时间
 * @returns {error} 两个阶段后仍未确认退出时返回ErrTerminationTimeout
 * @description
 * - 未启动或已退出的进程直接返回nil
 * - 等待期间不持有锁
 */
func (pi *ProcessInstance) StopProcess(grace, killWait time.Duration) error {
	pi.mutex.Lock()
	p := pi.process
	exited := pi.exited
	if p == nil || exited == nil {
		pi.mutex.Unlock()
		return nil
	}
	select {
	case <-exited:
		pi.mutex.Unlock()
		return nil
	default:
	}
	pi.Status = models.StatusStopped
	pi.LastExitReason = "stopped by manager"
	pi.mutex.Unlock()

	if err := terminate(p); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warnf("Failed to terminate process '%s' (PID: %d): %v", pi.Title, p.Pid, err)
	}
	select {
	case <-exited:
		return nil
	case <-time.After(grace):
	}

	logger.Warnf("Process '%s' (PID: %d) ignored terminate for %v, killing", pi.Title, p.Pid, grace)
	if err := kill(p); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Errorf("Failed to kill process '%s' (PID: %d): %v", pi.Title, p.Pid, err)
	}
	select {
	case <-exited:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("process '%s' (PID: %d): %w", pi.Title, p.Pid, ErrTerminationTimeout)
	}
}
