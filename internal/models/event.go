package models

// 生命周期事件类型
const (
	EventStarted       = "started"
	EventRenewed       = "renewed"
	EventURLCaptured   = "url_captured"
	EventCaptureFailed = "capture_failed"
	EventStopped       = "stopped"
	EventRemoved       = "removed"
	EventRestored      = "restored"
)

// TunnelEvent 通过 /api/events 推送的生命周期事件
type TunnelEvent struct {
	Type        string      `json:"type"`
	ServiceName string      `json:"service_name"`
	State       TunnelState `json:"state,omitempty"`
	URL         string      `json:"url,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Time        float64     `json:"time"`
}
