package proc

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

const (
	defaultLineBuffer = 256
	defaultTailSize   = 50
	maxLineSize       = 64 * 1024
)

/**
 * Stream 进程输出流，按行读取
 * @description
 * - 一个pump协程持续读取管道，保证子进程不会因为管道写满而阻塞
 * - 行数据同时写入有界channel(满了丢弃)和尾部环形缓冲
 * - 管道EOF(子进程退出且写端全部关闭)时关闭Lines()
 */
type Stream struct {
	name     string
	lines    chan string
	mu       sync.Mutex
	tail     []string
	tailSize int
	dropped  int
	done     chan struct{}
}

func newStream(name string, bufSize, tailSize int) *Stream {
	if bufSize <= 0 {
		bufSize = defaultLineBuffer
	}
	if tailSize <= 0 {
		tailSize = defaultTailSize
	}
	return &Stream{
		name:     name,
		lines:    make(chan string, bufSize),
		tailSize: tailSize,
		done:     make(chan struct{}),
	}
}

// NewStreamFromReader 从任意reader构造Stream并开始读取，测试和回放日志时使用
func NewStreamFromReader(name string, r io.Reader, tailSize int) *Stream {
	s := newStream(name, defaultLineBuffer, tailSize)
	go s.pump(r)
	return s
}

// pump 读到EOF为止，超长的行截断到maxLineSize，读错误后继续丢弃数据直到写端关闭
func (s *Stream) pump(r io.Reader) {
	defer close(s.done)
	defer close(s.lines)
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	reader := bufio.NewReaderSize(r, 4096)
	buf := make([]byte, 0, 4096)
	for {
		frag, isPrefix, err := reader.ReadLine()
		if room := maxLineSize - len(buf); room > 0 && len(frag) > 0 {
			if len(frag) > room {
				frag = frag[:room]
			}
			buf = append(buf, frag...)
		}
		if err != nil {
			if len(buf) > 0 {
				s.emit(string(buf))
			}
			if err != io.EOF {
				io.Copy(io.Discard, r)
			}
			return
		}
		if isPrefix {
			continue
		}
		s.emit(string(buf))
		buf = buf[:0]
	}
}

func (s *Stream) emit(raw string) {
	line := strings.TrimRight(raw, "\r")
	s.mu.Lock()
	s.tail = append(s.tail, line)
	if len(s.tail) > s.tailSize {
		s.tail = s.tail[len(s.tail)-s.tailSize:]
	}
	s.mu.Unlock()

	select {
	case s.lines <- line:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

func (s *Stream) Name() string {
	return s.name
}

// Lines 实时行数据，流结束后关闭
func (s *Stream) Lines() <-chan string {
	return s.lines
}

// Tail 返回最近的若干行
func (s *Stream) Tail() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.tail))
	copy(out, s.tail)
	return out
}

// Done 流读取结束
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
