// internal/storage/s3_storage.go
package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
)

// S3Config 对象存储参数，Endpoint 为空时使用 AWS 官方地址
type S3Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
}

// S3Storage S3 兼容对象存储（OSS/MinIO/R2 等）
type S3Storage struct {
	client s3iface.S3API
	cfg    S3Config
}

// NewS3Storage 创建客户端；自定义 Endpoint 时使用 path-style
func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, apperrors.NewConfigurationError("S3_BUCKET 未配置", nil)
	}
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.AccessKey != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""))
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, apperrors.NewConfigurationError("创建 S3 会话失败", err)
	}
	return &S3Storage{client: s3.New(sess), cfg: cfg}, nil
}

// NewS3StorageWithClient 注入客户端，测试使用
func NewS3StorageWithClient(client s3iface.S3API, cfg S3Config) *S3Storage {
	return &S3Storage{client: client, cfg: cfg}
}

func makeAWSMD5(b []byte) *string {
	h := md5.Sum(b)
	return aws.String(base64.StdEncoding.EncodeToString(h[:]))
}

func (s *S3Storage) Write(ctx context.Context, key string, data []byte) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(cleaned),
		Body:        bytes.NewReader(data),
		ContentMD5:  makeAWSMD5(data),
		ContentType: aws.String(http.DetectContentType(data)),
	})
	if err != nil {
		return apperrors.NewUpstreamError("上传对象失败: "+cleaned, err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	if awsErr, ok := err.(awserr.Error); ok {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

func (s *S3Storage) Read(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	r, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(cleaned),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, apperrors.NewNotFoundError("对象不存在: "+cleaned, err)
		}
		return nil, apperrors.NewUpstreamError("读取对象失败: "+cleaned, err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(r.Body)

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r.Body); err != nil {
		return nil, apperrors.NewUpstreamError("读取对象失败: "+cleaned, err)
	}
	return buf.Bytes(), nil
}

func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(cleaned),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, apperrors.NewUpstreamError("查询对象失败: "+cleaned, err)
	}
	return true, nil
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
	cleaned, err := cleanKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(cleaned),
	})
	if err != nil {
		return apperrors.NewUpstreamError("删除对象失败: "+cleaned, err)
	}
	return nil
}

// PublicURL 优先使用配置的 CDN 地址
func (s *S3Storage) PublicURL(key string) string {
	cleaned, err := cleanKey(key)
	if err != nil {
		return ""
	}
	if s.cfg.PublicBaseURL != "" {
		return joinURL(s.cfg.PublicBaseURL, cleaned)
	}
	if s.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.Endpoint, "/"), s.cfg.Bucket, cleaned)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, cleaned)
}
