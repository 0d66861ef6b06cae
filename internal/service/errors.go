package service

import (
	"errors"
	"strings"
)

var (
	// ErrGateNotFound 闸口不存在
	ErrGateNotFound = errors.New("gate not found")
	// ErrNoSelection 重启/重启系统时未选择任何设备
	ErrNoSelection = errors.New("no device selected")
	// ErrTopologyNotLoaded 尚未加载拓扑
	ErrTopologyNotLoaded = errors.New("topology not loaded")
	// ErrJobNotFound 任务不存在或已过期
	ErrJobNotFound = errors.New("job not found")
)

// CheckSelection 调用方在 Restart/Reboot 前检查是否选择了设备
func CheckSelection(names []string) error {
	for _, n := range names {
		if strings.TrimSpace(n) != "" {
			return nil
		}
	}
	return ErrNoSelection
}
