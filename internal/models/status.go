package models

// NamedTunnelStatus 持久隧道(系统服务)状态
type NamedTunnelStatus struct {
	Configured    bool     `json:"configured"`
	ServiceActive bool     `json:"service_active"`
	SudoAvailable bool     `json:"sudo_available"`
	AdminRequired bool     `json:"admin_required"`
	TunnelName    string   `json:"tunnel_name,omitempty"`
	ConfigPath    string   `json:"config_path"`
	Hostnames     []string `json:"hostnames"`
	Error         string   `json:"error,omitempty"`
}

// StatusResponse /api/status 响应
type StatusResponse struct {
	Services                   []HostService     `json:"services"`
	ActiveTunnels              []TunnelView      `json:"active_tunnels"`
	ActiveTunnelsCount         int               `json:"active_tunnels_count"`
	LocalIP                    string            `json:"local_ip"`
	DefaultTunnelDurationHours float64           `json:"default_tunnel_duration_hours"`
	NamedTunnelStatus          NamedTunnelStatus `json:"named_tunnel_status"`
	SudoAvailable              bool              `json:"sudo_available"`
	AdminRequired              bool              `json:"admin_required"`
}
