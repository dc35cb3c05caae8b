package utils

import (
	"bytes"
	"context"
	"net"
	"reflect"
	"strings"
	"testing"

	goversion "github.com/hashicorp/go-version"
	"github.com/iancoleman/orderedmap"
)

func TestExtractPorts(t *testing.T) {
	cases := []struct {
		in   string
		want []int
	}{
		{"0.0.0.0:3000->3000/tcp, [::]:3000->3000/tcp", []int{3000}},
		{"0.0.0.0:9090->9090/tcp, 0.0.0.0:80->8080/tcp", []int{80, 9090}},
		{"127.0.0.1:5432->5432/tcp", []int{5432}},
		{"127.0.0.1:5432->5432/tcp, 0.0.0.0:8080->80/tcp", []int{8080}},
		{"6379/tcp", []int{}},
		{"", []int{}},
		{"-", []int{}},
	}
	for _, c := range cases {
		got := ExtractPorts(c.in)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("ExtractPorts(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseDockerPs(t *testing.T) {
	out := strings.Join([]string{
		"grafana\tUp 2 hours\t0.0.0.0:3000->3000/tcp\tgrafana/grafana:latest",
		"old\tExited (0) 3 days ago\t\tbusybox",
		"redis\tUp 5 minutes\t6379/tcp\t",
		"broken line",
	}, "\n")
	svcs := ParseDockerPs(out)
	if len(svcs) != 2 {
		t.Fatalf("expected 2 running services, got %d: %+v", len(svcs), svcs)
	}
	if svcs[0].Name != "grafana" || !reflect.DeepEqual(svcs[0].Ports, []int{3000}) || svcs[0].Image != "grafana/grafana:latest" {
		t.Errorf("unexpected grafana entry: %+v", svcs[0])
	}
	if svcs[1].Name != "redis" || len(svcs[1].Ports) != 0 || svcs[1].Image != "unknown" {
		t.Errorf("unexpected redis entry: %+v", svcs[1])
	}
	if got := ParseDockerPs(""); len(got) != 0 {
		t.Errorf("empty output should give no services, got %v", got)
	}
}

func TestGetCommandLine(t *testing.T) {
	args := []string{"tunnel", "--url", "{{.LocalURL}}", "{{if .Domain}}--hostname={{.Domain}}{{end}}", "--label={{.ServiceName}}"}
	cmd, out, err := GetCommandLine(" cloudflared ", args, TunnelArgs{
		ServiceName: "grafana",
		LocalIP:     "10.0.0.2",
		Port:        3000,
		LocalURL:    "http://10.0.0.2:3000",
	})
	if err != nil {
		t.Fatalf("GetCommandLine failed: %v", err)
	}
	if cmd != "cloudflared" {
		t.Errorf("command = %q", cmd)
	}
	want := []string{"tunnel", "--url", "http://10.0.0.2:3000", "--label=grafana"}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("args = %v, want %v", out, want)
	}

	if _, _, err := GetCommandLine("cloudflared", []string{"{{.Missing}}"}, TunnelArgs{}); err == nil {
		t.Error("unknown template field should fail")
	}
	if _, _, err := GetCommandLine("{{", nil, TunnelArgs{}); err == nil {
		t.Error("broken template should fail")
	}
}

func TestParseAgentVersion(t *testing.T) {
	ver, err := ParseAgentVersion("cloudflared version 2024.8.2 (built 2024-08-12-1234 UTC)")
	if err != nil {
		t.Fatalf("ParseAgentVersion failed: %v", err)
	}
	if ver.String() != "2024.8.2" {
		t.Errorf("version = %s", ver)
	}
	if _, err := ParseAgentVersion("command not found"); err == nil {
		t.Error("output without a version should fail")
	}

	ok, err := VersionAtLeast(ver, "2023.2.0")
	if err != nil || !ok {
		t.Errorf("2024.8.2 >= 2023.2.0 expected, got %v %v", ok, err)
	}
	old := goversion.Must(goversion.NewVersion("2022.1.0"))
	if ok, _ := VersionAtLeast(old, "2023.2.0"); ok {
		t.Error("2022.1.0 should be older than 2023.2.0")
	}
	if ok, _ := VersionAtLeast(old, ""); !ok {
		t.Error("empty minimum accepts everything")
	}
	if _, err := VersionAtLeast(old, "not-a-version"); err == nil {
		t.Error("invalid minimum should fail")
	}
}

func TestPath2ProcessName(t *testing.T) {
	cases := map[string]string{
		"/usr/local/bin/cloudflared": "cloudflared",
		"cloudflared":                "cloudflared",
	}
	for in, want := range cases {
		if got := Path2ProcessName(in); got != want {
			t.Errorf("Path2ProcessName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteFormat(t *testing.T) {
	type row struct {
		Name string  `json:"name"`
		Port int     `json:"port"`
		URL  string  `json:"url"`
		Left float64 `json:"left"`
	}
	r1, err := StructToOrderedMap(row{Name: "grafana", Port: 3000, URL: "https://a.trycloudflare.com", Left: 1.5})
	if err != nil {
		t.Fatalf("StructToOrderedMap failed: %v", err)
	}
	r2, _ := StructToOrderedMap(row{Name: "api", Port: 8080})
	if keys := r1.Keys(); !reflect.DeepEqual(keys, []string{"name", "port", "url", "left"}) {
		t.Errorf("keys not in field order: %v", keys)
	}

	var buf bytes.Buffer
	WriteFormat(&buf, nil)
	if buf.Len() != 0 {
		t.Error("empty list should print nothing")
	}
	WriteFormat(&buf, []*orderedmap.OrderedMap{r1, r2})
	out := buf.String()
	for _, want := range []string{"NAME", "PORT", "grafana", "3000", "https://a.trycloudflare.com", "1.5", "api", "8080"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckPortAvailable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	if CheckPortAvailable(port) {
		t.Errorf("port %d has a listener", port)
	}
	l.Close()
	if !CheckPortAvailable(port) {
		t.Errorf("port %d should be free after close", port)
	}
}

func TestResolveLocalIP(t *testing.T) {
	if ip := ResolveLocalIP(context.Background(), " 10.1.1.1 "); ip != "10.1.1.1" {
		t.Errorf("override ignored: %s", ip)
	}
	if ip := ResolveLocalIP(context.Background(), ""); ip == "" {
		t.Error("resolved ip should never be empty")
	}
}
