package utils

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// TunnelArgs 渲染隧道代理命令行时可用的模板变量
type TunnelArgs struct {
	ServiceName string
	LocalIP     string
	Port        int
	LocalURL    string
	Domain      string
}

/**
 * Render command and argument templates
 * @param {string} command - command template
 * @param {[]string} args - argument templates
 * @param {interface{}} data - template data, usually TunnelArgs
 * @returns {string} rendered command
 * @returns {[]string} rendered arguments, empty results are dropped
 * @returns {error} template parse or execution error
 */
func GetCommandLine(command string, args []string, data interface{}) (string, []string, error) {
	cmd, err := renderTemplate("command", command, data)
	if err != nil {
		return "", nil, err
	}

	var processedArgs []string
	for _, arg := range args {
		out, err := renderTemplate("arg", arg, data)
		if err != nil {
			return "", nil, err
		}
		out = strings.TrimSpace(out)
		if out == "" {
			continue
		}
		processedArgs = append(processedArgs, out)
	}
	return strings.TrimSpace(cmd), processedArgs, nil
}

func renderTemplate(name, text string, data interface{}) (string, error) {
	tpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template '%s': %w", name, text, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template '%s': %w", name, text, err)
	}
	return buf.String(), nil
}
