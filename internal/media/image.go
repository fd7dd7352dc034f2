package media

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/chanhub/internal/model"
)

// UploadRecorder はアップロード結果の記録先。metrics.Collectorが満たす。
type UploadRecorder interface {
	RecordUpload(kind string, ok bool, duration time.Duration)
}

// UploadImage はpathの画像をアップロードしてURLを返す。
// アップロード失敗や結果にURLがない場合はValidationErrorを返す。リトライはしない。
func UploadImage(ctx context.Context, up Uploader, rec UploadRecorder, kind, path string) (string, error) {
	start := time.Now()
	res, err := up.Upload(ctx, path)
	ok := err == nil && res != nil && res.URL != ""
	if rec != nil {
		rec.RecordUpload(kind, ok, time.Since(start))
	}
	if ok {
		return res.URL, nil
	}

	if err != nil {
		slog.Error("media upload failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
	return "", &model.APIError{
		Kind:    model.KindValidation,
		Code:    model.ErrCodeValidation,
		Message: "error while uploading " + strings.ReplaceAll(kind, "_", " "),
		Err:     err,
	}
}
