package detector

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// COCO数据集的80个类别名称
var cocoClassNames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat", "traffic light",
	"fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse", "sheep", "cow",
	"elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee",
	"skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant", "bed",
	"dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone", "microwave", "oven",
	"toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

type Labels []string

func COCOLabels() Labels {
	return append(Labels(nil), cocoClassNames...)
}

// Name returns the label of classId, or "" when it is out of range.
func (l Labels) Name(classId int) string {
	if classId >= 0 && classId < len(l) {
		return l[classId]
	}
	return ""
}

// LoadLabels reads one label per line. An empty path yields the COCO labels.
func LoadLabels(path string) (Labels, error) {
	if path == "" {
		return COCOLabels(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels file: %w", err)
	}
	defer f.Close()

	var labels Labels
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels file: %w", err)
	}
	return labels, nil
}
