// Package media はアバター・カバー画像をS3互換ストレージへアップロードする。
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// UploadResult はアップロード結果を表す。
type UploadResult struct {
	URL         string
	Key         string
	ContentType string
	Size        int64
}

// Uploader はローカルファイルを外部メディアストレージへ送るインターフェース。
// localPathが空の場合は(nil, nil)を返す。
type Uploader interface {
	Upload(ctx context.Context, localPath string) (*UploadResult, error)
}

// PutObjectAPI はS3Uploaderが利用するS3クライアントの部分集合。
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config はS3互換ストレージの接続設定。
type S3Config struct {
	Endpoint      string // 空の場合はAWSのデフォルトエンドポイント
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string // 空の場合はEndpoint/Bucketから組み立てる
}

// S3Uploader はaws-sdk-go-v2でPutObjectするUploader実装。
type S3Uploader struct {
	client        PutObjectAPI
	bucket        string
	publicBaseURL string
}

// NewS3Uploader はS3Configからクライアントを構築してS3Uploaderを生成する。
// MinIO等のエンドポイントではパススタイルのアドレッシングを使う。
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("media bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3UploaderWithClient(client, cfg.Bucket, publicBaseURL(cfg)), nil
}

// NewS3UploaderWithClient は任意のPutObjectAPIを使うS3Uploaderを生成する。
func NewS3UploaderWithClient(client PutObjectAPI, bucket, publicBaseURL string) *S3Uploader {
	return &S3Uploader{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Upload はlocalPathのファイルをランダムなキーでアップロードし、公開URLを返す。
func (u *S3Uploader) Upload(ctx context.Context, localPath string) (*UploadResult, error) {
	if localPath == "" {
		return nil, nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat upload file: %w", err)
	}

	contentType, err := sniffContentType(f)
	if err != nil {
		return nil, err
	}

	key := uuid.New().String() + strings.ToLower(filepath.Ext(localPath))

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put object %s: %w", key, err)
	}

	return &UploadResult{
		URL:         u.publicBaseURL + "/" + key,
		Key:         key,
		ContentType: contentType,
		Size:        info.Size(),
	}, nil
}

// sniffContentType は先頭512バイトからContent-Typeを判定し、読み取り位置を先頭に戻す。
func sniffContentType(f *os.File) (string, error) {
	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("failed to read upload file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind upload file: %w", err)
	}
	return http.DetectContentType(buf[:n]), nil
}

func publicBaseURL(cfg S3Config) string {
	if cfg.PublicBaseURL != "" {
		return cfg.PublicBaseURL
	}
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

// compile-time interface check
var _ Uploader = (*S3Uploader)(nil)
