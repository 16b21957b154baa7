package uploader

import (
	"context"
	"fmt"
	"io"
	"time"

	"entitlement_ledger/internal/pkg/config"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"
)

// signedURLExpire 导出文件下载链接有效期（秒）
const signedURLExpire = 3600

// Uploader 对象存储上传
type Uploader interface {
	Put(ctx context.Context, objectName string, r io.Reader, contentType string) (string, error)
}

type AliyunOSSUploader struct {
	bucket *oss.Bucket
}

func NewAliyunOSSUploader(cfg config.OSSConfig) (*AliyunOSSUploader, error) {
	if cfg.Endpoint == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("oss config is missing")
	}
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, err
	}

	bucket, err := client.Bucket(cfg.BucketName)
	if err != nil {
		return nil, err
	}

	return &AliyunOSSUploader{bucket: bucket}, nil
}

// Put 上传并返回带签名的下载地址（导出文件含未使用券码，bucket 应为私有）
func (u *AliyunOSSUploader) Put(ctx context.Context, objectName string, r io.Reader, contentType string) (string, error) {
	if err := u.bucket.PutObject(objectName, r, oss.ContentType(contentType), oss.WithContext(ctx)); err != nil {
		return "", err
	}
	return u.bucket.SignURL(objectName, oss.HTTPGet, signedURLExpire)
}

// ObjectName 生成对象名：prefix/YYYYMMDD/uuid.ext
func ObjectName(prefix, ext string, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s%s", prefix, now.Format("20060102"), uuid.New().String(), ext)
}
