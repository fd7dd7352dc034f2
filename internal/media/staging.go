package media

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// allowedExt はステージングファイル名に引き継ぐ拡張子の形式。
var allowedExt = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// SaveMultipartFile はマルチパートのfieldで受け取ったファイルをdir配下の一時ファイルへ保存する。
// フィールドが存在しない場合は("", nil)を返す。呼び出し側は使用後にファイルを削除すること。
// 事前にr.ParseMultipartFormが呼ばれている必要がある。
func SaveMultipartFile(r *http.Request, field, dir string) (string, error) {
	src, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read form file %s: %w", field, err)
	}
	defer src.Close()

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExt.MatchString(ext) {
		ext = ""
	}

	dst, err := os.CreateTemp(dir, field+"-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("failed to close staging file: %w", err)
	}

	return dst.Name(), nil
}

// RemoveStaged はステージングファイルを削除する。空パスは無視する。
func RemoveStaged(paths ...string) {
	for _, p := range paths {
		if p != "" {
			os.Remove(p)
		}
	}
}
