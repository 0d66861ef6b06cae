package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ocrtool/ocrtool/internal/config"
	"github.com/ocrtool/ocrtool/pkg/logger"
)

const topologyContentType = "application/json"

// StoredObject 归档结果
type StoredObject struct {
	URI         string `json:"uri"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	ContentType string `json:"content_type"`
}

// Archiver 保存上传的拓扑文档副本
type Archiver interface {
	Archive(ctx context.Context, data []byte, at time.Time) (StoredObject, error)
}

// NewArchiver 根据配置创建归档器；backend 为 minio 时失败回退到本地
func NewArchiver(cfg *config.Config) Archiver {
	local := &LocalArchiver{dir: cfg.Topology.ArchiveDir}
	if cfg.Topology.ArchiveBackend != "minio" {
		return local
	}
	return &DelegatingArchiver{local: local, minio: newMinioArchiver(cfg.Storage.Minio)}
}

// DelegatingArchiver 优先写 MinIO，失败回退本地
type DelegatingArchiver struct {
	local *LocalArchiver
	minio *MinioArchiver
}

func (a *DelegatingArchiver) Archive(ctx context.Context, data []byte, at time.Time) (StoredObject, error) {
	if a.minio == nil {
		logger.Warn("MinIO backend selected but client not initialized; falling back to local")
		return a.local.Archive(ctx, data, at)
	}
	obj, err := a.minio.Archive(ctx, data, at)
	if err != nil {
		logger.WithError(err).Warn("MinIO write failed; falling back to local")
		objLocal, lerr := a.local.Archive(ctx, data, at)
		if lerr != nil {
			return StoredObject{}, fmt.Errorf("minio write failed: %v; local fallback failed: %w", err, lerr)
		}
		return objLocal, nil
	}
	return obj, nil
}

// archiveName 归档文件名：日期目录 + 时间 + 内容摘要前缀
func archiveName(data []byte, at time.Time) (name, checksum string) {
	sum := sha256.Sum256(data)
	hexSum := hex.EncodeToString(sum[:])
	name = path.Join(at.Format("20060102"), fmt.Sprintf("%s_%s.json", at.Format("150405"), hexSum[:12]))
	return name, "sha256:" + hexSum
}

// LocalArchiver 本地目录归档
type LocalArchiver struct {
	dir string
}

// NewLocalArchiver 创建本地归档器
func NewLocalArchiver(dir string) *LocalArchiver {
	return &LocalArchiver{dir: dir}
}

func (a *LocalArchiver) Archive(_ context.Context, data []byte, at time.Time) (StoredObject, error) {
	baseDir := strings.TrimSpace(a.dir)
	if baseDir == "" {
		baseDir = "./data/topology"
	}
	name, checksum := archiveName(data, at)
	fullPath := filepath.Join(baseDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return StoredObject{}, fmt.Errorf("failed to create dir: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return StoredObject{}, fmt.Errorf("failed to write file: %w", err)
	}
	return StoredObject{
		URI:         "file://" + fullPath,
		Size:        int64(len(data)),
		Checksum:    checksum,
		ContentType: topologyContentType,
	}, nil
}

// MinioArchiver MinIO 对象存储归档
type MinioArchiver struct {
	client        *minio.Client
	endpoint      string
	bucket        string
	prefix        string
	bucketEnsured bool
}

func newMinioArchiver(cfg config.MinioConfig) *MinioArchiver {
	host := strings.TrimSpace(cfg.Host)
	if host == "" || cfg.Port <= 0 {
		logger.Warn("MinIO configuration incomplete; host/port missing")
		return nil
	}
	endpoint := fmt.Sprintf("%s:%d", host, cfg.Port)

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.Secure,
		Transport: transport,
	})
	if err != nil {
		logger.WithError(err).Error("MinIO client initialization failed")
		return nil
	}
	return &MinioArchiver{
		client:   client,
		endpoint: endpoint,
		bucket:   strings.TrimSpace(cfg.Bucket),
		prefix:   strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
	}
}

func (a *MinioArchiver) Archive(ctx context.Context, data []byte, at time.Time) (StoredObject, error) {
	if a.bucket == "" {
		return StoredObject{}, fmt.Errorf("minio bucket not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if !a.bucketEnsured {
		exists, err := a.client.BucketExists(ctx, a.bucket)
		if err != nil {
			return StoredObject{}, fmt.Errorf("minio connectivity failed to %s: %w", a.endpoint, err)
		}
		if !exists {
			if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
				return StoredObject{}, fmt.Errorf("minio ensure bucket failed: %w", err)
			}
		}
		a.bucketEnsured = true
	}

	name, checksum := archiveName(data, at)
	if a.prefix != "" {
		name = path.Join(a.prefix, name)
	}
	_, err := a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: topologyContentType})
	if err != nil {
		return StoredObject{}, fmt.Errorf("minio put object failed: %w", err)
	}
	return StoredObject{
		URI:         "minio://" + path.Join(a.bucket, name),
		Size:        int64(len(data)),
		Checksum:    checksum,
		ContentType: topologyContentType,
	}, nil
}
