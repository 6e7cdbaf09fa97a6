package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"talent-search/internal/config"
	"talent-search/internal/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// ObjectInfo 列举出的一个对象
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStorage ObjectStoreSource 依赖的对象存储能力
type ObjectStorage interface {
	ListPDFs(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error)
	DownloadFile(ctx context.Context, objectName string) ([]byte, error)
	GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

var _ ObjectStorage = (*MinIO)(nil)

// MinIO 简历 PDF 所在的对象存储
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	bucket string
	logger *zerolog.Logger
}

// NewMinIO 创建MinIO客户端
func NewMinIO(cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if cfg.Endpoint == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("MinIO endpoint 和 bucketName 不能为空")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client: client,
		cfg:    cfg,
		bucket: cfg.BucketName,
		logger: logger.Component("minio"),
	}
	if err := m.ensureBucketExists(cfg.BucketName, cfg.Location); err != nil {
		return nil, err
	}
	m.logger.Info().Str("endpoint", cfg.Endpoint).Str("bucket", m.bucket).Msg("MinIO client initialized")
	return m, nil
}

func (m *MinIO) ensureBucketExists(bucketName, location string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
	}
	m.logger.Info().Str("bucket", bucketName).Msg("bucket created")
	return nil
}

// ListPDFs 列出 prefix 下的 PDF 对象，limit<=0 表示不限
func (m *MinIO) ListPDFs(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var out []ObjectInfo
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("列举对象 %s/%s 失败: %w", m.bucket, prefix, obj.Err)
		}
		if !strings.EqualFold(path.Ext(obj.Key), ".pdf") {
			continue
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// DownloadFile 下载对象内容
func (m *MinIO) DownloadFile(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", m.bucket, objectName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", m.bucket, objectName, err)
	}
	m.logger.Debug().Str("object", objectName).Int("bytes", len(data)).Msg("object downloaded")
	return data, nil
}

// GetPresignedURL 获取预签名URL，用作候选人的 resume_url
func (m *MinIO) GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("生成MinIO预签名URL失败: %w", err)
	}
	return u.String(), nil
}
