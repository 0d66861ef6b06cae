package simulate

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh"

	"github.com/ocrtool/ocrtool/pkg/logger"
)

// Config simulate.yaml 结构：每个键是一台模拟设备
type Config struct {
	Devices map[string]DeviceConfig `mapstructure:"devices"`
}

// DeviceConfig 模拟设备参数
type DeviceConfig struct {
	Listen   string `mapstructure:"listen"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Hostname string `mapstructure:"hostname"`
	// Responses 精确匹配命令时返回的标准输出
	Responses map[string]string `mapstructure:"responses"`
	// Delay 每条命令返回前的等待时间，用于模拟慢设备
	Delay time.Duration `mapstructure:"delay"`
}

// LoadConfig 读取 simulate.yaml
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read simulate config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulate config: %w", err)
	}
	return &cfg, nil
}

// Manager 管理多台模拟设备，每台设备独立监听一个端口
type Manager struct {
	mu      sync.Mutex
	servers map[string]*Server
}

// Start 启动配置中的全部模拟设备，任意一台失败则停止已启动的设备并返回错误
func Start(cfg *Config) (*Manager, error) {
	m := &Manager{servers: make(map[string]*Server)}
	names := make([]string, 0, len(cfg.Devices))
	for name := range cfg.Devices {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		dc := cfg.Devices[name]
		if dc.Hostname == "" {
			dc.Hostname = name
		}
		srv, err := NewServer(dc)
		if err == nil {
			err = srv.Start()
		}
		if err != nil {
			m.Stop()
			return nil, fmt.Errorf("simulate device %s: %w", name, err)
		}
		m.servers[name] = srv
		logger.WithField("device", name).WithField("addr", srv.Addr()).Info("Simulate: device started")
	}
	return m, nil
}

// Addr 返回模拟设备的监听地址
func (m *Manager) Addr(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if srv, ok := m.servers[name]; ok {
		return srv.Addr()
	}
	return ""
}

// Names 返回已启动的设备名（排序）
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop 停止所有模拟设备
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, srv := range m.servers {
		srv.Stop()
		logger.WithField("device", name).Info("Simulate: device stopped")
	}
	m.servers = make(map[string]*Server)
}

// Server 单台模拟设备的 SSH 服务端，只支持 exec 请求
type Server struct {
	cfg      DeviceConfig
	hostKey  ssh.Signer
	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	commands []string
	conns    map[net.Conn]struct{}
}

// NewServer 创建模拟设备，主机密钥每次随机生成
func NewServer(cfg DeviceConfig) (*Server, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create host key signer: %w", err)
	}
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:0"
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "jetson"
	}
	return &Server{cfg: cfg, hostKey: signer, conns: make(map[net.Conn]struct{})}, nil
}

// Start 开始监听
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				// listener closed
				return
			}
			s.mu.Lock()
			s.conns[conn] = struct{}{}
			s.mu.Unlock()
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.handleConn(c)
				s.mu.Lock()
				delete(s.conns, c)
				s.mu.Unlock()
			}(conn)
		}
	}()
	return nil
}

// Addr 监听地址（host:port）
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// HostKey 服务端公钥
func (s *Server) HostKey() ssh.PublicKey {
	return s.hostKey.PublicKey()
}

// Commands 返回已收到的 exec 命令（按到达顺序）
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// Stop 关闭监听并等待连接处理结束
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) handleConn(nc net.Conn) {
	srvCfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if meta.User() == s.cfg.Username && string(password) == s.cfg.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied")
		},
	}
	srvCfg.AddHostKey(s.hostKey)

	conn, chans, reqs, err := ssh.NewServerConn(nc, srvCfg)
	if err != nil {
		logger.WithField("remote", nc.RemoteAddr().String()).Debugf("Simulate: SSH handshake failed: %v", err)
		_ = nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleSession(conn, channel, requests)
		}()
	}
}

func (s *Server) handleSession(conn *ssh.ServerConn, channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()
	for req := range requests {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		if s.cfg.Delay > 0 {
			time.Sleep(s.cfg.Delay)
		}

		stdout, stderr, status, drop := s.respond(payload.Command)
		_, _ = channel.Write([]byte(stdout))
		if stderr != "" {
			_, _ = channel.Stderr().Write([]byte(stderr))
		}
		if drop {
			// 模拟重启：不返回退出码直接断开
			_ = conn.Close()
			return
		}
		_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
		return
	}
}

// respond 根据命令生成输出；drop 为 true 表示设备在返回退出码前断开
func (s *Server) respond(command string) (stdout, stderr string, status uint32, drop bool) {
	if out, ok := s.cfg.Responses[command]; ok {
		return out, "", 0, false
	}
	switch {
	case command == "uptime":
		return fmt.Sprintf(" %s up 3 days,  4:05,  1 user,  load average: 0.08, 0.03, 0.01\n", time.Now().Format("15:04:05")), "", 0, false
	case strings.HasPrefix(command, "pm2 restart"):
		return "[PM2] Applying action restartProcessId on app [ocr]\n[PM2] [ocr](0) ✓\n", "", 0, false
	case strings.Contains(command, "sudo -S reboot"):
		return "", "[sudo] password for " + s.cfg.Username + ": ", 0, true
	case strings.Contains(command, "sudo -S systemctl restart"):
		return "", "[sudo] password for " + s.cfg.Username + ": ", 0, false
	case command == "hostname":
		return s.cfg.Hostname + "\n", "", 0, false
	default:
		return "", "bash: " + strings.Fields(command + " x")[0] + ": command not found\n", 127, false
	}
}
