package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/env"
	"tunnel-keeper/internal/models"
)

// HTTPClient 定义HTTP客户端接口
type HTTPClient interface {
	Get(path string, params map[string]interface{}) (*HTTPResponse, error)
	Post(path string, data interface{}) (*HTTPResponse, error)
	Delete(path string, params map[string]interface{}) (*HTTPResponse, error)
	IsConnected() bool
	Close() error
}

// HTTPConfig 定义HTTP客户端配置
type HTTPConfig struct {
	Address string        //tunnel-keeper服务侦听地址
	Network string        //unix,tcp...
	Timeout time.Duration // 默认超时时间
	BaseURL string        // 基础URL
}

/**
 * 默认HTTP客户端配置
 * @returns {*HTTPConfig} unix socket存在时走socket，否则走本机tcp端口
 * @description
 * - socket位于<dataDir>/run/<server.socket>
 * - tcp端口取server.address，TUNNEL_KEEPER_PORT已经在配置加载时合并
 */
func DefaultHTTPConfig() *HTTPConfig {
	cfg := config.Get()
	c := &HTTPConfig{
		Address: getSocketPath(cfg.Server.Socket, ""),
		Network: "unix",
		// 停止隧道可能要等进程退出，超时要比进程停止等待时间长
		Timeout: 30 * time.Second,
		BaseURL: "http://localhost",
	}
	// 检查socket文件是否存在
	if _, err := os.Stat(c.Address); cfg.Server.Socket == "" || os.IsNotExist(err) {
		c.Address = getTcpAddress(cfg.Server.Address)
		c.Network = "tcp"
	}
	return c
}

// HTTPResponse 定义HTTP响应结构
type HTTPResponse struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
	Error      string              `json:"error"`
}

// Decode 把响应体解析到v
func (r *HTTPResponse) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// buildURL 构建完整的URL
func buildURL(baseURL, path string, params map[string]interface{}) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	// 添加路径
	if u.Path == "" {
		u.Path = path
	} else {
		// 确保路径以/结尾，然后拼接
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		u.Path += strings.TrimPrefix(path, "/")
	}

	// 添加查询参数
	if params != nil {
		q := u.Query()
		for key, value := range params {
			switch v := value.(type) {
			case string:
				q.Set(key, v)
			case int, int8, int16, int32, int64:
				q.Set(key, fmt.Sprintf("%d", v))
			case uint, uint8, uint16, uint32, uint64:
				q.Set(key, fmt.Sprintf("%d", v))
			case float32, float64:
				q.Set(key, fmt.Sprintf("%f", v))
			case bool:
				q.Set(key, fmt.Sprintf("%t", v))
			default:
				q.Set(key, fmt.Sprintf("%v", v))
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// serializeData 序列化请求数据
func serializeData(data interface{}) (io.Reader, error) {
	if data == nil {
		return nil, nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize data: %w", err)
	}

	return bytes.NewReader(jsonData), nil
}

/**
 * 反序列化响应数据
 * @description
 * - 2xx直接返回
 * - 其他状态码依次尝试ErrorResponse.error和TunnelResponse.message作为错误信息
 */
func deserializeResponse(resp *http.Response) (*HTTPResponse, error) {
	defer resp.Body.Close()
	httpResp := &HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	httpResp.Body = body
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return httpResp, nil
	}
	if len(body) == 0 {
		httpResp.Error = resp.Status
	} else {
		var errBody struct {
			models.ErrorResponse
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &errBody); err != nil {
			httpResp.Error = err.Error()
		} else if errBody.Error != "" {
			httpResp.Error = errBody.Error
		} else {
			httpResp.Error = errBody.Message
		}
	}
	if httpResp.Error == "" {
		httpResp.Error = "Unknown error"
	}
	return httpResp, nil
}

/**
 * tunnel-keeper服务侦听的unix socket地址
 */
func getSocketPath(socketName string, socketDir string) string {
	if socketDir == "" {
		socketDir = env.RunDir()
	}
	return filepath.Join(socketDir, socketName)
}

/**
 * tunnel-keeper服务侦听的tcp地址，监听所有地址时连本机
 */
func getTcpAddress(listen string) string {
	if listen == "" {
		return fmt.Sprintf("127.0.0.1:%d", config.DefaultPort)
	}
	idx := strings.LastIndex(listen, ":")
	if idx < 0 {
		return listen
	}
	host := listen[:idx]
	if host == "" || host == "0.0.0.0" || host == "::" || host == "[::]" {
		host = "127.0.0.1"
	}
	return host + listen[idx:]
}
