// Package publish uploads the outputs of finished batch rows to object
// storage and announces them on an NSQ topic.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/nsqio/go-nsq"
	"github.com/sirupsen/logrus"

	"detbatch/internal/config"
	"detbatch/internal/dao"
)

const uploadTimeout = 5 * time.Minute

// TableMessage is published once the outputs of a row are uploaded.
type TableMessage struct {
	BatchId   string `json:"batchId"`
	Seq       int    `json:"seq"`
	Video     string `json:"video"`
	VideoPath string `json:"videoPath,omitempty"`
	TablePath string `json:"tablePath"`
	Timestamp int64  `json:"timestamp"`
}

type messageProducer interface {
	Publish(topic string, body []byte) error
	Stop()
}

type uploader func(ctx context.Context, localPath, objectPath string) error

type Publisher struct {
	bucket   string
	topic    string
	upload   uploader
	producer messageProducer
	logger   *logrus.Entry
}

func NewPublisher(conf config.PublishConfig, logger *logrus.Entry) (*Publisher, error) {
	region := conf.S3.Region
	if region == "" {
		region = "us-east-1"
	}
	minioCli, err := minio.New(conf.S3.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.S3.AccessKeyID, conf.S3.SecretAccessKey, ""),
		Secure: conf.S3.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client failed: %w", err)
	}

	producer, err := nsq.NewProducer(conf.NSQ.NSQDAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("create NSQ producer failed: %w", err)
	}

	bucket := conf.S3.Bucket
	return &Publisher{
		bucket: bucket,
		topic:  conf.NSQ.Topic,
		upload: func(ctx context.Context, localPath, objectPath string) error {
			return UploadFileToMinio(ctx, minioCli, bucket, localPath, objectPath)
		},
		producer: producer,
		logger:   logger,
	}, nil
}

// ObjectPath is the object key of a row output: /<batch>/<video stem>/<file>.
func ObjectPath(batchId, videoPath, localPath string) string {
	return path.Join("/", batchId, dao.Stem(videoPath), filepath.Base(localPath))
}

// Publish uploads the table and, when present, the annotated video of a
// succeeded row, then sends a TableMessage.
func (p *Publisher) Publish(ctx context.Context, row *dao.RowResult) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	msg := &TableMessage{
		BatchId:   row.BatchId,
		Seq:       row.Seq,
		Video:     row.RelativePath,
		Timestamp: time.Now().UnixNano(),
	}

	if row.OutputPath != "" {
		if _, err := os.Stat(row.OutputPath); err == nil {
			msg.VideoPath = ObjectPath(row.BatchId, row.Path, row.OutputPath)
			if err := p.upload(ctx, row.OutputPath, msg.VideoPath); err != nil {
				return fmt.Errorf("upload video %s: %w", row.OutputPath, err)
			}
		} else {
			p.logger.WithError(err).Warnf("output video %s missing, not uploaded", row.OutputPath)
		}
	}

	msg.TablePath = ObjectPath(row.BatchId, row.Path, row.TablePath)
	if err := p.upload(ctx, row.TablePath, msg.TablePath); err != nil {
		return fmt.Errorf("upload table %s: %w", row.TablePath, err)
	}

	msgData, _ := json.Marshal(msg)
	if err := p.producer.Publish(p.topic, msgData); err != nil {
		return fmt.Errorf("publish to NSQ failed: %w", err)
	}

	p.logger.Infof("successfully published %s: uploaded to %s and sent to NSQ", row.RelativePath, msg.TablePath)
	return nil
}

func (p *Publisher) Close() {
	p.producer.Stop()
}
