package service

import (
	"fmt"
	"strings"

	"github.com/ocrtool/ocrtool/internal/topology"
)

// Operation 设备操作类型
type Operation string

const (
	OpStatus  Operation = "status"
	OpRestart Operation = "restart"
	OpReboot  Operation = "reboot"
)

// DefaultTriggerDevice 使用 systemd 服务重启的触发设备名
const DefaultTriggerDevice = "trigger"

const (
	processRestartCommand = "pm2 restart ocr"
	triggerRestartFormat  = "echo '%s' | sudo -S systemctl restart trigger.service"
	rebootFormat          = "echo '%s' | sudo -S reboot now"
)

// Label 日志中使用的操作名，如 Restart
func (op Operation) Label() string {
	s := string(op)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ParseOperation 解析操作名
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToLower(strings.TrimSpace(s))); op {
	case OpStatus, OpRestart, OpReboot:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operation: %q", s)
	}
}

// BuildCommand 按操作类型生成设备上执行的命令，不修改 device。
// trigger 为触发设备名（大小写不敏感），为空时使用 DefaultTriggerDevice。
func BuildCommand(op Operation, device topology.Device, trigger string) string {
	switch op {
	case OpRestart:
		if trigger == "" {
			trigger = DefaultTriggerDevice
		}
		if device.CanonicalName() == topology.CanonicalName(trigger) {
			return fmt.Sprintf(triggerRestartFormat, device.Secret)
		}
		return processRestartCommand
	case OpReboot:
		return fmt.Sprintf(rebootFormat, device.Secret)
	default:
		if strings.TrimSpace(device.StatusCommand) == "" {
			return topology.DefaultStatusCommand
		}
		return device.StatusCommand
	}
}
