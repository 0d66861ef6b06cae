package ssh

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyPolicy 主机密钥校验策略
type HostKeyPolicy string

const (
	// HostKeyInsecure 接受任何主机密钥，不做记录
	HostKeyInsecure HostKeyPolicy = "insecure"
	// HostKeyTOFU 首次连接时信任并记住主机密钥，之后密钥变化则拒绝
	HostKeyTOFU HostKeyPolicy = "tofu"
	// HostKeyPinned 只接受 known_hosts 文件中已存在的密钥
	HostKeyPinned HostKeyPolicy = "pinned"
)

// ErrHostKeyMismatch 已记录的主机密钥与本次连接不一致
var ErrHostKeyMismatch = errors.New("ssh: host key mismatch")

// HostKeyMismatchError 主机密钥变化详情
type HostKeyMismatchError struct {
	Host string
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("ssh: host key for %s changed", e.Host)
}

func (e *HostKeyMismatchError) Unwrap() error {
	return ErrHostKeyMismatch
}

// NewHostKeyCallback 按策略构建 HostKeyCallback。
// 设备部署在封闭网络内，主机身份通常没有预先分发，因此默认策略为 tofu。
func NewHostKeyCallback(policy HostKeyPolicy, knownHostsPath string) (ssh.HostKeyCallback, error) {
	switch HostKeyPolicy(strings.ToLower(strings.TrimSpace(string(policy)))) {
	case HostKeyInsecure:
		return ssh.InsecureIgnoreHostKey(), nil
	case HostKeyPinned:
		if strings.TrimSpace(knownHostsPath) == "" {
			return nil, fmt.Errorf("ssh: pinned host key policy requires known_hosts_path")
		}
		cb, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		return cb, nil
	case HostKeyTOFU, "":
		store, err := newTOFUStore(knownHostsPath)
		if err != nil {
			return nil, err
		}
		return store.check, nil
	default:
		return nil, fmt.Errorf("ssh: unknown host key policy %q", policy)
	}
}

// tofuStore 首次信任存储：进程内缓存 + 可选的 known_hosts 文件持久化
type tofuStore struct {
	mu    sync.Mutex
	path  string
	known map[string]ssh.PublicKey
	file  ssh.HostKeyCallback
}

func newTOFUStore(path string) (*tofuStore, error) {
	s := &tofuStore{path: strings.TrimSpace(path), known: make(map[string]ssh.PublicKey)}
	if s.path == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create known_hosts dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open known_hosts: %w", err)
	}
	f.Close()
	cb, err := knownhosts.New(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	s.file = cb
	return s, nil
}

func (s *tofuStore) check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	host := knownhosts.Normalize(hostname)
	if existing, ok := s.known[host]; ok {
		if bytes.Equal(existing.Marshal(), key.Marshal()) {
			return nil
		}
		return &HostKeyMismatchError{Host: host}
	}

	if s.file != nil {
		err := s.file(hostname, remote, key)
		if err == nil {
			s.known[host] = key
			return nil
		}
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) > 0 {
			return &HostKeyMismatchError{Host: host}
		}
		var revoked *knownhosts.RevokedError
		if errors.As(err, &revoked) {
			return err
		}
	}

	s.known[host] = key
	return s.persist(host, key)
}

func (s *tofuStore) persist(host string, key ssh.PublicKey) error {
	if s.path == "" {
		return nil
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to record host key: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(knownhosts.Line([]string{host}, key) + "\n"); err != nil {
		return fmt.Errorf("failed to record host key: %w", err)
	}
	return nil
}
