package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
)

// ContentType maps a file extension to the content type stored with the object.
func ContentType(localPath string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(localPath), ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "json":
		return "application/json"
	case "csv":
		return "text/csv"
	case "txt":
		return "text/plain"
	case "mp4":
		return "video/mp4"
	case "avi":
		return "video/avi"
	case "mov":
		return "video/quicktime"
	}
	return "application/octet-stream"
}

func UploadFileToMinio(ctx context.Context, minioCli *minio.Client, bucket, localPath, minioPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file failed: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("get file info failed: %w", err)
	}

	_, err = minioCli.PutObject(
		ctx,
		bucket,
		strings.TrimPrefix(minioPath, "/"),
		file,
		fileInfo.Size(),
		minio.PutObjectOptions{
			ContentType: ContentType(localPath),
		},
	)
	if err != nil {
		return fmt.Errorf("put object to minio failed: %w", err)
	}

	return nil
}
