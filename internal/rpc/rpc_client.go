package rpc

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"tunnel-keeper/internal/logger"

	"github.com/gorilla/websocket"
)

// httpClient HTTP客户端实现
type httpClient struct {
	config    *HTTPConfig
	client    *http.Client
	transport *http.Transport
	connected bool
	mu        sync.Mutex
}

/**
 * Create new HTTP client talking to the tunnel-keeper server
 * @param {HTTPConfig} config - HTTP client configuration, nil for DefaultHTTPConfig
 * @returns {HTTPClient} HTTP client interface
 * @description
 * - The transport dials config.Network/config.Address whatever host the URL names
 * - Connection is checked lazily on the first request
 * @example
 * client := NewHTTPClient(nil)
 * defer client.Close()
 * resp, err := client.Get("/api/tunnels", nil)
 */
func NewHTTPClient(config *HTTPConfig) HTTPClient {
	if config == nil {
		config = DefaultHTTPConfig()
	}

	client := &httpClient{
		config: config,
	}
	client.transport = &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, config.Network, config.Address)
		},
	}
	client.client = &http.Client{
		Transport: client.transport,
		Timeout:   config.Timeout,
	}
	return client
}

func (c *httpClient) Get(path string, params map[string]interface{}) (*HTTPResponse, error) {
	return c.do(http.MethodGet, path, params, nil)
}

func (c *httpClient) Post(path string, data interface{}) (*HTTPResponse, error) {
	body, err := serializeData(data)
	if err != nil {
		return nil, err
	}
	return c.do(http.MethodPost, path, nil, body)
}

func (c *httpClient) Delete(path string, params map[string]interface{}) (*HTTPResponse, error) {
	return c.do(http.MethodDelete, path, params, nil)
}

/**
 * Send one request to the server
 * @param {string} method - HTTP method
 * @param {string} path - API endpoint path
 * @param {map[string]interface{}} params - query parameters
 * @param {io.Reader} body - JSON body, nil for none
 * @returns {*HTTPResponse} response, non-2xx status is not an error
 * @returns {error} connection, request or read failure
 */
func (c *httpClient) do(method, path string, params map[string]interface{}, body io.Reader) (*HTTPResponse, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	url, err := buildURL(c.config.BaseURL, path, params)
	if err != nil {
		return nil, fmt.Errorf("failed to build URL: %w", err)
	}

	logger.Debugf("Sending %s request to %s via %s://%s", method, url, c.config.Network, c.config.Address)

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		return nil, fmt.Errorf("request failed: %w", err)
	}

	httpResp, err := deserializeResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return httpResp, nil
}

/**
 * Close HTTP client connection
 * @returns {error} always nil
 */
func (c *httpClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.CloseIdleConnections()
	}
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}

	c.connected = false
	logger.Debugf("HTTP client connection closed")
	return nil
}

// IsConnected 检查客户端是否已连接
func (c *httpClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ensureConnected unix socket文件不存在时直接报错，不去等连接超时
func (c *httpClient) ensureConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	if c.config.Network == "unix" {
		if _, err := os.Stat(c.config.Address); os.IsNotExist(err) {
			return fmt.Errorf("socket file not found at %s", c.config.Address)
		}
	}
	c.connected = true
	logger.Debugf("Connected to HTTP server at %s://%s", c.config.Network, c.config.Address)
	return nil
}

/**
 * Open a websocket to the server, e.g. the /api/events stream
 * @param {context.Context} ctx - bounds the handshake
 * @param {*HTTPConfig} config - client configuration, nil for DefaultHTTPConfig
 * @param {string} path - websocket path
 * @param {map[string]interface{}} params - query parameters
 * @returns {*websocket.Conn} open connection
 * @returns {error} dial or handshake failure
 */
func DialWebsocket(ctx context.Context, config *HTTPConfig, path string, params map[string]interface{}) (*websocket.Conn, error) {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, config.Network, config.Address)
		},
		HandshakeTimeout: config.Timeout,
	}
	u, err := buildURL("ws"+strings.TrimPrefix(config.BaseURL, "http"), path, params)
	if err != nil {
		return nil, err
	}
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect %s: %w", u, err)
	}
	return conn, nil
}
