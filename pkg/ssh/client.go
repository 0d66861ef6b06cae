package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ocrtool/ocrtool/internal/util"
)

const (
	// DefaultPort 地址未带端口时使用
	DefaultPort = 22
	// DefaultStatusTimeout 状态探测的连接/执行超时
	DefaultStatusTimeout = 2 * time.Second
	// DefaultCommandTimeout 重启/重启系统的超时（服务重启与 sudo 提示较慢）
	DefaultCommandTimeout = 10 * time.Second
)

// Config SSH配置
type Config struct {
	Port           int
	Timeout        time.Duration
	HostKeyPolicy  HostKeyPolicy
	KnownHostsPath string
}

// Target 一次远程执行的目标设备
type Target struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Username string `json:"username"`
	Secret   string `json:"-"`
}

// Outcome 单台设备的执行结果：Payload 与 Error 只会填充其一
type Outcome struct {
	Name       string `json:"name"`
	Payload    string `json:"payload,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// OK 执行是否成功
func (o Outcome) OK() bool {
	return o.Error == ""
}

// Executor 远程命令执行器：每次调用独立建立连接，执行单条命令后关闭
type Executor struct {
	config  Config
	hostKey ssh.HostKeyCallback
}

// NewExecutor 创建执行器，按配置构建主机密钥校验策略
func NewExecutor(config Config) (*Executor, error) {
	if config.Port <= 0 {
		config.Port = DefaultPort
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultStatusTimeout
	}
	cb, err := NewHostKeyCallback(config.HostKeyPolicy, config.KnownHostsPath)
	if err != nil {
		return nil, err
	}
	return &Executor{config: config, hostKey: cb}, nil
}

// Execute 在目标设备上执行一条命令。
// 所有失败（拒绝连接、认证失败、超时、会话错误）都转为 Outcome.Error，不会向上返回 error。
// 成功时 Payload 为标准输出中第一个逗号之前的内容。
func (e *Executor) Execute(ctx context.Context, target Target, command string, timeout time.Duration) Outcome {
	if timeout <= 0 {
		timeout = e.config.Timeout
	}
	start := time.Now()
	outcome := Outcome{Name: strings.ToUpper(target.Name)}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := e.run(ctx, target, command)
	outcome.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "unknown error"
		}
		outcome.Error = msg
		return outcome
	}
	outcome.Payload = FirstField(output)
	return outcome
}

// FirstField 返回第一个逗号之前的文本；没有逗号时原样返回
func FirstField(output string) string {
	return strings.SplitN(output, ",", 2)[0]
}

func (e *Executor) run(ctx context.Context, target Target, command string) (string, error) {
	client, err := e.connect(ctx, target)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err := <-done:
		if err != nil && !isRemoteExit(err) {
			return "", fmt.Errorf("failed to run command: %w", err)
		}
	case <-ctx.Done():
		// 关闭连接以解除 Run 的阻塞
		_ = client.Close()
		return "", fmt.Errorf("command timeout: %w", ctx.Err())
	}

	return util.EnsureUTF8Bytes(stdout.Bytes()), nil
}

// isRemoteExit 远端命令已执行但退出码非零或连接在退出前断开（如 reboot），只看标准输出，不视为失败
func isRemoteExit(err error) bool {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return true
	}
	var missing *ssh.ExitMissingError
	return errors.As(err, &missing)
}

// connect 建立 SSH 连接，拨号与握手都受 ctx 截止时间约束
func (e *Executor) connect(ctx context.Context, target Target) (*ssh.Client, error) {
	address := e.address(target.Address)

	sshConfig := &ssh.ClientConfig{
		User:            target.Username,
		HostKeyCallback: e.hostKey,
		Auth: []ssh.AuthMethod{
			ssh.Password(target.Secret),
			// 部分设备只开放 keyboard-interactive，统一使用密码应答
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = target.Secret
				}
				return answers, nil
			}),
		},
	}
	if deadline, ok := ctx.Deadline(); ok {
		sshConfig.Timeout = time.Until(deadline)
	}

	dialer := &net.Dialer{Timeout: sshConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create SSH connection: %w", err)
	}
	// 握手完成后由 ctx 控制命令超时
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// address 补全端口："10.0.0.1" -> "10.0.0.1:22"
func (e *Executor) address(addr string) string {
	addr = strings.TrimSpace(addr)
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(e.config.Port))
}
