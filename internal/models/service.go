package models

// HostService 宿主机上运行的服务(docker容器)及其对外端口
type HostService struct {
	Name   string `json:"name" example:"grafana"`
	Status string `json:"status" example:"Up 2 hours"`
	Ports  []int  `json:"ports"`
	Image  string `json:"image" example:"grafana/grafana:latest"`
}
