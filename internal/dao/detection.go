package dao

// Box is a single detector output in pixel coordinates of the source frame.
type Box struct {
	X0         float32 `json:"x0"`
	Y0         float32 `json:"y0"`
	X1         float32 `json:"x1"`
	Y1         float32 `json:"y1"`
	Score      float32 `json:"score"`
	CategoryId int     `json:"categoryId"`
	Label      string  `json:"label,omitempty"`
}

// DetectionRecord is one retained detection of one sampled frame.
type DetectionRecord struct {
	FrameCount int     `json:"frameCount"`
	Filename   string  `json:"filename"`
	X0         float32 `json:"x0"`
	Y0         float32 `json:"y0"`
	X1         float32 `json:"x1"`
	Y1         float32 `json:"y1"`
	Score      float32 `json:"score"`
	CategoryId int     `json:"categoryId"`
	Label      string  `json:"label,omitempty"`
}

func NewDetectionRecord(frameCount int, filename string, box Box) DetectionRecord {
	return DetectionRecord{
		FrameCount: frameCount,
		Filename:   filename,
		X0:         box.X0,
		Y0:         box.Y0,
		X1:         box.X1,
		Y1:         box.Y1,
		Score:      box.Score,
		CategoryId: box.CategoryId,
		Label:      box.Label,
	}
}

// FilterByScore keeps the boxes whose score is strictly greater than threshold.
func FilterByScore(boxes []Box, threshold float32) []Box {
	kept := make([]Box, 0, len(boxes))
	for _, box := range boxes {
		if box.Score > threshold {
			kept = append(kept, box)
		}
	}
	return kept
}
