package model

import (
	"time"

	"gorm.io/gorm"

	"detbatch/internal/dao"
)

const InsertBatchSize = 500

type Detection struct {
	Id         int       `json:"id" gorm:"primaryKey"`
	BatchId    string    `json:"batch_id" gorm:"index;size:64"`
	Filename   string    `json:"filename" gorm:"index;size:512;NOT NULL"`
	FrameCount int       `json:"frame_count"`
	X0         float32   `json:"x0"`
	Y0         float32   `json:"y0"`
	X1         float32   `json:"x1"`
	Y1         float32   `json:"y1"`
	Score      float32   `json:"score"`
	CategoryId int       `json:"category_id"`
	Label      string    `json:"label" gorm:"size:64"`
	CreateTime time.Time `json:"create_time" gorm:"datetime;autoCreateTime"`
}

func FromRecord(batchId string, r dao.DetectionRecord) *Detection {
	return &Detection{
		BatchId:    batchId,
		Filename:   r.Filename,
		FrameCount: r.FrameCount,
		X0:         r.X0,
		Y0:         r.Y0,
		X1:         r.X1,
		Y1:         r.Y1,
		Score:      r.Score,
		CategoryId: r.CategoryId,
		Label:      r.Label,
	}
}

func FromRecords(batchId string, records []dao.DetectionRecord) []*Detection {
	ret := make([]*Detection, 0, len(records))
	for _, r := range records {
		ret = append(ret, FromRecord(batchId, r))
	}
	return ret
}

// InsertDetections replaces the rows previously imported for the table of
// filename in batchId, and for any other (batch, filename) pair present in
// detections, so importing a table twice does not duplicate it. A table with
// no detections still clears its old rows.
func InsertDetections(db *gorm.DB, batchId, filename string, detections []*Detection) error {
	keys := replacedKeys(batchId, filename, detections)
	if len(keys) == 0 {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for _, key := range keys {
			if err := tx.Where("batch_id = ? AND filename = ?", key[0], key[1]).
				Delete(&Detection{}).Error; err != nil {
				return err
			}
		}
		if len(detections) == 0 {
			return nil
		}
		return tx.CreateInBatches(detections, InsertBatchSize).Error
	})
}

func replacedKeys(batchId, filename string, detections []*Detection) [][2]string {
	var keys [][2]string
	seen := map[[2]string]bool{}
	add := func(key [2]string) {
		if key[1] == "" || seen[key] {
			return
		}
		seen[key] = true
		keys = append(keys, key)
	}
	add([2]string{batchId, filename})
	for _, d := range detections {
		add([2]string{d.BatchId, d.Filename})
	}
	return keys
}

func CountDetections(db *gorm.DB, batchId string) (int64, error) {
	var count int64
	q := db.Model(&Detection{})
	if batchId != "" {
		q = q.Where("batch_id = ?", batchId)
	}
	err := q.Count(&count).Error
	return count, err
}
