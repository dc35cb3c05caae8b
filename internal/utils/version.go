package utils

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"time"

	goversion "github.com/hashicorp/go-version"
)

var agentVersionRe = regexp.MustCompile(`version\s+v?([0-9]+(?:\.[0-9]+)+)`)

/**
 * Parse the version reported by `<agent> --version`
 * @param {string} output - e.g. "cloudflared version 2024.8.2 (built 2024-08-12-1234 UTC)"
 * @returns {*goversion.Version} parsed version
 * @returns {error} when no version can be found
 */
func ParseAgentVersion(output string) (*goversion.Version, error) {
	m := agentVersionRe.FindStringSubmatch(output)
	if m == nil {
		return nil, fmt.Errorf("no version in output: %q", output)
	}
	return goversion.NewVersion(m[1])
}

// AgentVersion 执行 `<command> --version` 并解析版本号
func AgentVersion(ctx context.Context, command string) (*goversion.Version, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, command, "--version").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("run %s --version: %w", command, err)
	}
	return ParseAgentVersion(string(out))
}

/**
 * Check whether a version satisfies a minimum
 * @param {*goversion.Version} ver - actual version
 * @param {string} minimum - minimum version, empty means no constraint
 * @returns {bool} true when ver >= minimum
 * @returns {error} invalid minimum
 */
func VersionAtLeast(ver *goversion.Version, minimum string) (bool, error) {
	if minimum == "" {
		return true, nil
	}
	constraint, err := goversion.NewConstraint(">= " + minimum)
	if err != nil {
		return false, err
	}
	return constraint.Check(ver), nil
}
