package models

// StateEntry 持久化文件中单个隧道的字段
// tunnel_type/custom_domain只有持久隧道才写，旧文件没有这两个字段
type StateEntry struct {
	URL            *string    `json:"url"`
	Port           int        `json:"port"`
	LocalURL       string     `json:"local_url"`
	StartTime      *float64   `json:"start_time"`
	ExpirationTime *float64   `json:"expiration_time"`
	TunnelType     TunnelKind `json:"tunnel_type,omitempty"`
	CustomDomain   string     `json:"custom_domain,omitempty"`
}

// StateFile 持久化文件格式: {timestamp, tunnels:{name:{...}}}
type StateFile struct {
	Timestamp float64               `json:"timestamp"`
	Tunnels   map[string]StateEntry `json:"tunnels"`
}
