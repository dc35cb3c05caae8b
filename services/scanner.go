package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"tunnel-keeper/internal/logger"
)

// CaptureFailed 捕获超时后写入记录的标记值，不会被持久化
const CaptureFailed = "capture failed"

// LineSource 按行读取的进程输出流
type LineSource interface {
	Lines() <-chan string
	Tail() []string
}

type captureRule struct {
	name string
	re   *regexp.Regexp
}

const quickHost = `https://[a-zA-Z0-9.-]+\.trycloudflare\.com`

// 按从具体到宽泛排列，每行取第一个命中的规则
var captureRules = []captureRule{
	{"starting-tunnel", regexp.MustCompile(`INF Starting tunnel.*url=(` + quickHost + `)`)},
	{"connection-registered", regexp.MustCompile(`Connection [a-f0-9-]+ registered connIndex=\d+ ip=[0-9.]+ location=[\w\d]+.*URL: (` + quickHost + `)`)},
	{"quick-tunnel-created", regexp.MustCompile(`Your quick Tunnel has been created! Visit it at:\s*(` + quickHost + `)`)},
	{"url-label", regexp.MustCompile(`URL:\s*(` + quickHost + `)`)},
	{"url-field", regexp.MustCompile(`url=(` + quickHost + `)`)},
	{"generic", regexp.MustCompile(`(` + quickHost + `)`)},
}

var urlBlocklist = []string{
	"website-terms",
	"developers.cloudflare",
	"connect.cloudflare.com",
}

// IsBlockedURL 命中黑名单的地址(条款页、文档页)不是隧道地址
func IsBlockedURL(u string) bool {
	for _, b := range urlBlocklist {
		if strings.Contains(u, b) {
			return true
		}
	}
	return false
}

// IsCapturedURL 是否是真实捕获到的地址
func IsCapturedURL(u string) bool {
	return u != "" && u != CaptureFailed && !IsBlockedURL(u)
}

/**
 * Match one output line against the ordered capture rules
 * @param {string} line - one line of agent output
 * @returns {string} captured URL
 * @returns {string} name of the rule that matched
 * @returns {bool} false when nothing matched or the match is blocklisted
 */
func MatchLine(line string) (string, string, bool) {
	for _, rule := range captureRules {
		m := rule.re.FindStringSubmatch(line)
		if m == nil || IsBlockedURL(m[1]) {
			continue
		}
		return m[1], rule.name, true
	}
	return "", "", false
}

// CaptureResult 一次捕获的结果，URL为空时Err非空
type CaptureResult struct {
	URL    string
	Rule   string
	Source string
	Lines  int
	Err    error
}

/**
 * Scanner 从进程输出中提取公网地址
 * @property {time.Duration} Timeout - 单次捕获的总时长
 * @property {int} FallbackLines - 从次要流最多读取的行数
 */
type Scanner struct {
	Timeout       time.Duration
	FallbackLines int
	log           logger.Logger
}

func NewScanner(timeout time.Duration, fallbackLines int, log logger.Logger) *Scanner {
	if timeout <= 0 {
		timeout = 35 * time.Second
	}
	if fallbackLines <= 0 {
		fallbackLines = 20
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scanner{Timeout: timeout, FallbackLines: fallbackLines, log: log}
}

/**
 * Capture the public URL from the process output
 * @param {context.Context} ctx - cancels the capture early
 * @param {LineSource} primary - stream scanned first (stderr for cloudflared)
 * @param {LineSource} secondary - fallback stream (stdout), read with a line budget
 * @returns {CaptureResult} URL on success, CaptureTimeout error otherwise
 * @description
 * - Each stream is scanned tail buffer first, then live lines
 * - The primary phase ends on match, stream close or deadline
 * - When the deadline already passed, the secondary phase only drains buffered lines
 */
func (s *Scanner) Capture(ctx context.Context, primary, secondary LineSource) CaptureResult {
	deadline := time.NewTimer(s.Timeout)
	defer deadline.Stop()

	res := CaptureResult{}
	expired := false

	if primary != nil {
		if s.scanTail(primary, "primary", &res, -1) {
			return res
		}
		expired = s.scanLive(ctx, primary, "primary", &res, -1, deadline.C, false)
		if res.URL != "" {
			return res
		}
		if ctx.Err() != nil {
			res.Err = newTunnelError(KindCaptureTimeout, "", ctx.Err())
			return res
		}
	}

	if secondary != nil {
		budget := s.FallbackLines
		used := res.Lines
		if s.scanTail(secondary, "secondary", &res, budget) {
			return res
		}
		budget -= res.Lines - used
		if budget > 0 {
			s.scanLive(ctx, secondary, "secondary", &res, budget, deadline.C, expired)
			if res.URL != "" {
				return res
			}
		}
	}

	reason := "streams closed without a tunnel URL"
	if expired {
		reason = fmt.Sprintf("no tunnel URL within %v", s.Timeout)
	}
	res.Err = newTunnelError(KindCaptureTimeout, "", fmt.Errorf("%s after %d lines", reason, res.Lines))
	return res
}

// scanTail 扫描尾部缓冲，budget<0表示不限行数
func (s *Scanner) scanTail(src LineSource, name string, res *CaptureResult, budget int) bool {
	for i, line := range src.Tail() {
		if budget >= 0 && i >= budget {
			return false
		}
		if s.accept(line, name, res) {
			return true
		}
	}
	return false
}

/**
 * scanLive 读取实时行
 * @returns {bool} 截止时间是否已到
 * @description
 * - drainOnly为true时只读取channel中已有的行，不等待
 */
func (s *Scanner) scanLive(ctx context.Context, src LineSource, name string, res *CaptureResult, budget int, deadline <-chan time.Time, drainOnly bool) bool {
	lines := src.Lines()
	read := 0
	for budget < 0 || read < budget {
		if drainOnly {
			select {
			case line, ok := <-lines:
				if !ok {
					return true
				}
				read++
				if s.accept(line, name, res) {
					return true
				}
			default:
				return true
			}
			continue
		}
		select {
		case line, ok := <-lines:
			if !ok {
				return false
			}
			read++
			if s.accept(line, name, res) {
				return false
			}
		case <-deadline:
			return true
		case <-ctx.Done():
			return false
		}
	}
	return false
}

func (s *Scanner) accept(line, source string, res *CaptureResult) bool {
	res.Lines++
	u, rule, ok := MatchLine(line)
	if !ok {
		return false
	}
	res.URL = u
	res.Rule = rule
	res.Source = source
	s.log.Debug("tunnel url matched", logger.String("rule", rule), logger.String("source", source), logger.String("url", u))
	return true
}
