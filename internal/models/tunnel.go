package models

// TunnelKind 隧道类型
type TunnelKind string

const (
	// 临时隧道，由本服务拥有进程，有有效期
	KindEphemeral TunnelKind = "ephemeral"
	// 持久隧道，由系统服务运行，没有有效期
	KindPersistent TunnelKind = "persistent"
)

// TunnelState 隧道记录的生命周期状态
type TunnelState string

const (
	StateStarting      TunnelState = "starting"
	StateAwaitingURL   TunnelState = "awaiting_url"
	StateActive        TunnelState = "active"
	StateAwaitingRetry TunnelState = "awaiting_retry"
	StateStopped       TunnelState = "stopped"
	StateFailed        TunnelState = "failed"
)

// ParseTunnelKind 解析请求中的tunnel_type，空值表示ephemeral
func ParseTunnelKind(s string) (TunnelKind, bool) {
	switch TunnelKind(s) {
	case "", KindEphemeral:
		return KindEphemeral, true
	case KindPersistent, "named":
		return KindPersistent, true
	default:
		return "", false
	}
}

// TunnelView 查询接口返回的单个隧道信息
// @Description 隧道状态，查询时重新计算存活状态
type TunnelView struct {
	ServiceName          string      `json:"service_name" example:"grafana"`
	URL                  *string     `json:"url" example:"https://abc123.trycloudflare.com"`
	Port                 int         `json:"port" example:"3000"`
	LocalURL             string      `json:"local_url" example:"http://192.168.1.10:3000"`
	IsRunning            bool        `json:"is_running" example:"true"`
	StartTime            *float64    `json:"start_time"`
	ExpirationTime       *float64    `json:"expiration_time"`
	TimeRemainingSeconds *float64    `json:"time_remaining_seconds"`
	TunnelType           TunnelKind  `json:"tunnel_type" example:"ephemeral"`
	CustomDomain         *string     `json:"custom_domain"`
	State                TunnelState `json:"state,omitempty" example:"active"`
}

// StartTunnelRequest 启动隧道请求
type StartTunnelRequest struct {
	ServiceName   string   `json:"service_name" binding:"required" example:"grafana"`
	Port          int      `json:"port" example:"3000"`
	DurationHours *float64 `json:"duration_hours,omitempty" example:"2"`
	TunnelType    string   `json:"tunnel_type,omitempty" example:"ephemeral"`
	CustomDomain  string   `json:"custom_domain,omitempty" example:"grafana.example.com"`
}

// StopTunnelRequest 停止隧道请求
type StopTunnelRequest struct {
	ServiceName string `json:"service_name" binding:"required" example:"grafana"`
}

// TunnelResponse defines tunnel operation response format
type TunnelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
