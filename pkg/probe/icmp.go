package probe

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/ocrtool/ocrtool/pkg/logger"
)

// DefaultTimeout 单次探测超时
const DefaultTimeout = time.Second

// Prober 网络层可达性探测
type Prober interface {
	// Reachable 在 timeout 内收到回应返回 true；任何错误都视为不可达
	Reachable(ctx context.Context, address string, timeout time.Duration) bool
}

// ICMPProber 基于 ICMP echo 的探测器
type ICMPProber struct {
	count      int
	privileged bool
}

// NewICMPProber 创建 ICMP 探测器；Windows 上总是使用特权模式
func NewICMPProber(count int, privileged bool) *ICMPProber {
	if count <= 0 {
		count = 1
	}
	return &ICMPProber{
		count:      count,
		privileged: privileged || runtime.GOOS == "windows",
	}
}

// Reachable 实现 Prober
func (p *ICMPProber) Reachable(ctx context.Context, address string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	host := Host(address)

	// 域名解析也计入探测超时，ping 只使用剩余时间
	deadline := time.Now().Add(timeout)
	rctx, cancel := context.WithDeadline(ctx, deadline)
	ip, err := resolve(rctx, host)
	cancel()
	if err != nil {
		logger.WithField("host", host).Debugf("failed to resolve host: %v", err)
		return false
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}

	pinger, err := probing.NewPinger(ip)
	if err != nil {
		logger.WithField("host", host).Debugf("failed to create pinger: %v", err)
		return false
	}
	pinger.Count = p.count
	pinger.Timeout = remaining
	pinger.SetPrivileged(p.privileged)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if runErr := pinger.Run(); runErr != nil {
			logger.WithField("host", host).Debugf("ping failed: %v", runErr)
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return false
	}

	return pinger.Statistics().PacketsRecv > 0
}

// resolve 返回 host 的第一个 IP；IP 字面量直接返回
func resolve(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}
	return addrs[0].String(), nil
}

// Host 去掉地址中的端口部分："10.0.1.11:2222" -> "10.0.1.11"
func Host(address string) string {
	address = strings.TrimSpace(address)
	if h, _, err := net.SplitHostPort(address); err == nil {
		return h
	}
	return strings.Trim(address, "[]")
}
