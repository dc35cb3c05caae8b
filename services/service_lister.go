package services

import (
	"context"
	"os/exec"
	"time"

	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"
	"tunnel-keeper/internal/utils"
)

// ServiceLister 列出宿主机上可以暴露的服务
type ServiceLister interface {
	List(ctx context.Context) []models.HostService
}

// DockerServiceLister 通过 docker ps 列出运行中的容器
type DockerServiceLister struct {
	timeout time.Duration
	log     logger.Logger
	run     func(ctx context.Context) (string, error)
}

func NewDockerServiceLister(log logger.Logger) *DockerServiceLister {
	if log == nil {
		log = logger.Nop()
	}
	return &DockerServiceLister{
		timeout: 10 * time.Second,
		log:     log,
		run: func(ctx context.Context) (string, error) {
			out, err := exec.CommandContext(ctx, "docker", "ps", "-a", "--format", utils.DockerPsFormat).Output()
			return string(out), err
		},
	}
}

/**
 * List running docker services with their published ports
 * @param {context.Context} ctx - bounds the docker call
 * @returns {[]models.HostService} running containers, empty when docker is unavailable
 */
func (l *DockerServiceLister) List(ctx context.Context) []models.HostService {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	out, err := l.run(ctx)
	if err != nil {
		l.log.Warn("docker ps failed", logger.Err(err))
		return []models.HostService{}
	}
	return utils.ParseDockerPs(out)
}
