package tunnel

import (
	"fmt"

	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/rpc"
)

/**
 * Call a tunnel operation on the server
 * @param {string} path - API path, e.g. /api/start-tunnel
 * @param {interface{}} body - request body, nil for none
 * @returns {*models.TunnelResponse} server answer, also returned for 4xx/5xx
 * @returns {error} connection failure, or the server message when success=false
 */
func callTunnelAPI(path string, body interface{}) (*models.TunnelResponse, error) {
	client := rpc.NewHTTPClient(nil)
	defer client.Close()

	resp, err := client.Post(path, body)
	if err != nil {
		return nil, &unreachableError{err: err}
	}
	var result models.TunnelResponse
	if decodeErr := resp.Decode(&result); decodeErr != nil && resp.Error == "" {
		return nil, decodeErr
	}
	if resp.Error != "" {
		return &result, fmt.Errorf("%s", resp.Error)
	}
	if !result.Success {
		return &result, fmt.Errorf("%s", result.Message)
	}
	return &result, nil
}

/**
 * GET a JSON resource from the server
 * @param {string} path - API path
 * @param {interface{}} out - decoded response
 * @returns {error} connection, status or decode failure
 */
func getJSON(path string, out interface{}) error {
	client := rpc.NewHTTPClient(nil)
	defer client.Close()

	resp, err := client.Get(path, nil)
	if err != nil {
		return &unreachableError{err: err}
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	return resp.Decode(out)
}

// unreachableError 服务未运行或连接不上
type unreachableError struct {
	err error
}

func (e *unreachableError) Error() string {
	return fmt.Sprintf("tunnel-keeper server is not reachable (is 'tunnel-keeper server' running?): %v", e.err)
}

func (e *unreachableError) Unwrap() error { return e.err }
