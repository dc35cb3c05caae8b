package utils

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"
)

const fallbackIP = "127.0.0.1"

// CheckPortAvailable 本机端口没有进程侦听时返回true
func CheckPortAvailable(port int) bool {
	timeout := time.Second
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", fmt.Sprintf("%d", port)), timeout)
	if err != nil {
		// 连接失败，说明端口可用
		return true
	}
	conn.Close()
	return false
}

func hostnameIP(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "hostname", "-I").Output()
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// 不会真正发送数据，只是让内核选出出口地址
func udpDialIP() string {
	conn, err := net.DialTimeout("udp", "8.8.8.8:80", 100*time.Millisecond)
	if err != nil {
		return ""
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP != nil {
		return addr.IP.String()
	}
	return ""
}

/**
 * Resolve the local address tunnels forward to
 * @param {context.Context} ctx - bounds the hostname lookup
 * @param {string} override - configured address (LOCAL_IP), wins when set
 * @returns {string} ip address, never empty
 * @description
 * - Order: override, first field of `hostname -I`, UDP dial source address, 127.0.0.1
 */
func ResolveLocalIP(ctx context.Context, override string) string {
	if ip := strings.TrimSpace(override); ip != "" {
		return ip
	}
	if ip := hostnameIP(ctx); ip != "" {
		return ip
	}
	if ip := udpDialIP(); ip != "" {
		return ip
	}
	return fallbackIP
}
