package models

// OSProcess 操作系统进程信息，用于调试接口
type OSProcess struct {
	Pid        int     `json:"pid"`
	Name       string  `json:"name"`
	Cmdline    string  `json:"cmdline"`
	Status     string  `json:"status"`
	CreateTime float64 `json:"create_time"`
}

// RecordDebug 内存中隧道记录的完整信息
type RecordDebug struct {
	ServiceName    string      `json:"service_name"`
	Kind           TunnelKind  `json:"kind"`
	State          TunnelState `json:"state"`
	Port           int         `json:"port"`
	LocalURL       string      `json:"local_url"`
	URL            string      `json:"url,omitempty"`
	IsRunning      bool        `json:"is_running"`
	Pid            int         `json:"pid,omitempty"`
	Generation     string      `json:"generation,omitempty"`
	Capturing      bool        `json:"capturing"`
	StartTime      string      `json:"start_time,omitempty"`
	Expiration     string      `json:"expiration,omitempty"`
	CustomDomain   string      `json:"custom_domain,omitempty"`
	StderrTail     []string    `json:"stderr_tail,omitempty"`
	StdoutTail     []string    `json:"stdout_tail,omitempty"`
	LastExitReason string      `json:"last_exit_reason,omitempty"`
}

// DebugInfo /api/debug 响应
type DebugInfo struct {
	ActiveTunnelsCount int                    `json:"active_tunnels_count"`
	Records            map[string]RecordDebug `json:"active_tunnels_details"`
	AgentProcesses     []OSProcess            `json:"agent_processes"`
	AgentVersion       string                 `json:"agent_version,omitempty"`
	AgentVersionError  string                 `json:"agent_version_error,omitempty"`
	StateFile          string                 `json:"state_file"`
	StateFileContent   interface{}            `json:"state_file_content"`
	LocalIP            string                 `json:"local_ip"`
}
