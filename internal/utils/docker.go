package utils

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"tunnel-keeper/internal/models"
)

// DockerPsFormat `docker ps --format` 使用的列格式
const DockerPsFormat = "{{.Names}}\t{{.Status}}\t{{.Ports}}\t{{.Image}}"

var (
	publicPortRe   = regexp.MustCompile(`(?:0\.0\.0\.0:|\[::\]:)(\d+)->\d+/tcp`)
	loopbackPortRe = regexp.MustCompile(`127\.0\.0\.1:(\d+)->\d+/tcp`)
)

/**
 * Extract host ports from a docker "Ports" column
 * @param {string} ports - e.g. "0.0.0.0:3000->3000/tcp, [::]:3000->3000/tcp"
 * @returns {[]int} sorted, de-duplicated host ports
 * @description
 * - Ports bound to all interfaces win; loopback bindings are used only when none exist
 */
func ExtractPorts(ports string) []int {
	ports = strings.TrimSpace(ports)
	if ports == "" || ports == "-" {
		return []int{}
	}
	seen := map[int]struct{}{}
	collect := func(re *regexp.Regexp) {
		for _, m := range re.FindAllStringSubmatch(ports, -1) {
			if p, err := strconv.Atoi(m[1]); err == nil {
				seen[p] = struct{}{}
			}
		}
	}
	collect(publicPortRe)
	if len(seen) == 0 {
		collect(loopbackPortRe)
	}
	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// ParseDockerPs 解析docker ps输出，只保留状态为Up的容器
func ParseDockerPs(output string) []models.HostService {
	services := []models.HostService{}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 3 {
			continue
		}
		if !strings.Contains(parts[1], "Up") {
			continue
		}
		image := "unknown"
		if len(parts) > 3 && parts[3] != "" {
			image = parts[3]
		}
		services = append(services, models.HostService{
			Name:   parts[0],
			Status: parts[1],
			Ports:  ExtractPorts(parts[2]),
			Image:  image,
		})
	}
	return services
}
