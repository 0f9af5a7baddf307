package video

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"detbatch/internal/dao"
)

var (
	boxColor  = color.RGBA{0, 255, 0, 255}
	textColor = color.RGBA{0, 0, 0, 255}
)

// BoxPainter draws each box and a "label: score" tag on a copy of the frame.
type BoxPainter struct{}

func (BoxPainter) Annotate(frame gocv.Mat, boxes []dao.Box) gocv.Mat {
	annotatedFrame := frame.Clone()

	for _, box := range boxes {
		x1, y1, x2, y2 := int(box.X0), int(box.Y0), int(box.X1), int(box.Y1)
		label := fmt.Sprintf("%s: %.2f", BoxLabel(box), box.Score)
		labelSize := gocv.GetTextSize(label, gocv.FontHersheySimplex, 0.5, 2)

		gocv.Rectangle(&annotatedFrame, image.Rect(x1, y1, x2, y2), boxColor, 2)
		gocv.Rectangle(&annotatedFrame, image.Rect(x1, y1-labelSize.Y-10, x1+labelSize.X, y1), boxColor, -1)
		gocv.PutText(&annotatedFrame, label, image.Pt(x1, y1-5), gocv.FontHersheySimplex, 0.5, textColor, 2)
	}

	return annotatedFrame
}

func BoxLabel(box dao.Box) string {
	if box.Label != "" {
		return box.Label
	}
	return fmt.Sprintf("Class %d", box.CategoryId)
}
