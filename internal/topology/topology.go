package topology

import "strings"

// DefaultStatusCommand 未配置 command 时使用的状态探测命令
const DefaultStatusCommand = "uptime"

// Device 一个可远程管理的设备（闸口上的 OCR 主机）
type Device struct {
	Name          string `json:"name"`
	Address       string `json:"ip"`
	Username      string `json:"username"`
	Secret        string `json:"password"`
	StatusCommand string `json:"command"`
}

// CanonicalName 返回大写设备名，用于过滤匹配与结果排序
func (d Device) CanonicalName() string {
	return CanonicalName(d.Name)
}

// CanonicalName 设备名规范化：去除首尾空格并转为大写
func CanonicalName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Gate 命名的设备分组
type Gate struct {
	Name    string   `json:"name"`
	Devices []Device `json:"devices"`
}

// Fleet 完整拓扑：按配置文件顺序排列的闸口集合
// 加载后不再修改，调用方可在多个操作之间共享同一实例
type Fleet struct {
	gates []Gate
	index map[string]int
}

func newFleet(gates []Gate) *Fleet {
	f := &Fleet{
		gates: gates,
		index: make(map[string]int, len(gates)),
	}
	for i, g := range gates {
		f.index[g.Name] = i
	}
	return f
}

// GateNames 返回闸口名称列表（保持配置顺序）
func (f *Fleet) GateNames() []string {
	names := make([]string, 0, len(f.gates))
	for _, g := range f.gates {
		names = append(names, g.Name)
	}
	return names
}

// DevicesOf 返回指定闸口的设备列表副本；闸口不存在时 ok 为 false
func (f *Fleet) DevicesOf(gateName string) (devices []Device, ok bool) {
	i, ok := f.index[gateName]
	if !ok {
		return nil, false
	}
	devices = make([]Device, len(f.gates[i].Devices))
	copy(devices, f.gates[i].Devices)
	return devices, true
}

// Gates 返回全部闸口的副本
func (f *Fleet) Gates() []Gate {
	out := make([]Gate, 0, len(f.gates))
	for _, g := range f.gates {
		devices := make([]Device, len(g.Devices))
		copy(devices, g.Devices)
		out = append(out, Gate{Name: g.Name, Devices: devices})
	}
	return out
}

// DeviceCount 设备总数
func (f *Fleet) DeviceCount() int {
	n := 0
	for _, g := range f.gates {
		n += len(g.Devices)
	}
	return n
}
