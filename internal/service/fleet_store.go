package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ocrtool/ocrtool/internal/metrics"
	"github.com/ocrtool/ocrtool/internal/topology"
	"github.com/ocrtool/ocrtool/pkg/logger"
)

// FleetSource 为一次操作提供当前拓扑
type FleetSource interface {
	Current() *topology.Fleet
}

// FleetStore 持有当前生效的拓扑。加载失败时保留上一份拓扑。
type FleetStore struct {
	mu       sync.RWMutex
	path     string
	fleet    *topology.Fleet
	loadedAt time.Time
	archiver Archiver
}

// UploadResult 拓扑上传结果
type UploadResult struct {
	Gates    int           `json:"gates"`
	Devices  int           `json:"devices"`
	Archive  *StoredObject `json:"archive,omitempty"`
	LoadedAt time.Time     `json:"loaded_at"`
}

// NewFleetStore 创建拓扑存储；archiver 可为空
func NewFleetStore(path string, archiver Archiver) *FleetStore {
	return &FleetStore{path: path, archiver: archiver}
}

// Path 拓扑文件路径
func (s *FleetStore) Path() string {
	return s.path
}

// Current 返回当前拓扑，未加载时为 nil
func (s *FleetStore) Current() *topology.Fleet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fleet
}

// LoadedAt 最近一次成功加载的时间
func (s *FleetStore) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Replace 直接替换当前拓扑
func (s *FleetStore) Replace(f *topology.Fleet) {
	s.mu.Lock()
	s.fleet = f
	s.loadedAt = time.Now()
	s.mu.Unlock()
	if f != nil {
		metrics.TopologyDevices.Set(float64(f.DeviceCount()))
	}
}

// Reload 从文件重新加载拓扑；失败时当前拓扑保持不变
func (s *FleetStore) Reload() error {
	f, err := topology.LoadFile(s.path)
	if err != nil {
		return err
	}
	s.Replace(f)
	logger.WithFields(logger.Fields{
		"path":    s.path,
		"gates":   len(f.GateNames()),
		"devices": f.DeviceCount(),
	}).Info("Topology loaded")
	return nil
}

// Upload 校验上传的拓扑文档，写入拓扑文件并归档，然后切换为新拓扑。
// 校验失败返回 *topology.SchemaError，文件与当前拓扑都不变。
func (s *FleetStore) Upload(ctx context.Context, data []byte) (*UploadResult, error) {
	f, err := topology.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return nil, fmt.Errorf("failed to write topology: %w", err)
	}

	result := &UploadResult{Gates: len(f.GateNames()), Devices: f.DeviceCount()}
	if s.archiver != nil {
		obj, err := s.archiver.Archive(ctx, data, time.Now())
		if err != nil {
			logger.WithError(err).Warn("Failed to archive topology")
		} else {
			result.Archive = &obj
		}
	}

	s.Replace(f)
	result.LoadedAt = s.LoadedAt()
	logger.WithFields(logger.Fields{"gates": result.Gates, "devices": result.Devices}).Info("Topology uploaded")
	return result, nil
}

// writeFileAtomic 先写临时文件再 rename
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".topology-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
