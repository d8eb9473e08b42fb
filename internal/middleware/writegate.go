package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
)

// 文档注释：写入白名单（IP/CIDR）
// 背景：部署在公网时只允许指定来源创建记忆或提交访问；读取与订阅不受限制。
// 约束：未配置任何允许项时不生效；真实来源 IP 默认取 RemoteAddr，可通过 WRITE_REAL_IP_HEADER 指定上游头部。
type WriteGate struct {
	l            *slog.Logger
	allowIPs     map[string]struct{}
	allowCIDRs   []*net.IPNet
	realIPHeader string
}

// NewWriteGateFromEnv：
// WRITE_ALLOW_IPS=1.2.3.4,5.6.7.8
// WRITE_ALLOW_CIDRS=10.0.0.0/8,...
// WRITE_ALLOW_LOCAL=true
// WRITE_REAL_IP_HEADER=X-Forwarded-For
func NewWriteGateFromEnv(l *slog.Logger) *WriteGate {
	g := NewWriteGate(l, splitList(os.Getenv("WRITE_ALLOW_IPS")), splitList(os.Getenv("WRITE_ALLOW_CIDRS")))
	if os.Getenv("WRITE_ALLOW_LOCAL") == "true" {
		g.allowIPs["127.0.0.1"] = struct{}{}
		g.allowIPs["::1"] = struct{}{}
	}
	g.realIPHeader = strings.TrimSpace(os.Getenv("WRITE_REAL_IP_HEADER"))
	return g
}

func NewWriteGate(l *slog.Logger, ips, cidrs []string) *WriteGate {
	g := &WriteGate{l: l, allowIPs: map[string]struct{}{}}
	for _, p := range ips {
		if ip := net.ParseIP(p); ip != nil {
			g.allowIPs[ip.String()] = struct{}{}
		}
	}
	for _, c := range cidrs {
		if _, n, err := net.ParseCIDR(c); err == nil {
			g.allowCIDRs = append(g.allowCIDRs, n)
		} else {
			l.Warn("write_gate_bad_cidr", "cidr", c)
		}
	}
	return g
}

func (g *WriteGate) enabled() bool {
	return len(g.allowIPs) > 0 || len(g.allowCIDRs) > 0
}

func (g *WriteGate) Wrap(next http.Handler) http.Handler {
	if !g.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		ip := ClientIP(r, g.realIPHeader)
		if ip != nil && g.allowed(ip) {
			next.ServeHTTP(w, r)
			return
		}
		g.l.Debug("write_gate_block", "ip", ip, "path", r.URL.Path)
		w.WriteHeader(http.StatusForbidden)
	})
}

func (g *WriteGate) allowed(ip net.IP) bool {
	if _, ok := g.allowIPs[ip.String()]; ok {
		return true
	}
	for _, n := range g.allowCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP：解析请求来源 IP；header 非空时优先取该头部的首个有效 IP
func ClientIP(r *http.Request, header string) net.IP {
	if header != "" {
		if raw := r.Header.Get(header); raw != "" {
			first := strings.TrimSpace(strings.Split(raw, ",")[0])
			if ip := net.ParseIP(first); ip != nil {
				return ip
			}
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return net.ParseIP(host)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
