package detection

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/teslashibe/go-proctor/internal/log"
	"gocv.io/x/gocv"
)

// YOLODetector uses YOLOv8 for general object detection
type YOLODetector struct {
	net       gocv.Net
	config    YOLOConfig
	mu        sync.Mutex
	inputSize image.Point
	classes   map[int]bool
}

// YOLOConfig holds YOLO detector configuration
type YOLOConfig struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int

	// Classes restricts output to these class ids. Empty keeps all.
	Classes []int
}

// DefaultYOLOConfig returns production defaults for YOLOv8n.
// The 0.30 floor matches the phone tracker's own confidence gate.
func DefaultYOLOConfig() YOLOConfig {
	return YOLOConfig{
		ModelPath:        "models/yolov8n.onnx",
		ConfidenceThresh: 0.30,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
		Classes:          DefaultCatalog().ClassIDs(),
	}
}

// NewYOLO creates a new YOLO object detector
func NewYOLO(cfg YOLOConfig) (*YOLODetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrModelLoad, cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	classes := make(map[int]bool, len(cfg.Classes))
	for _, id := range cfg.Classes {
		classes[id] = true
	}

	return &YOLODetector{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
		classes:   classes,
	}, nil
}

// DetectObjects finds objects in a BGR frame
func (d *YOLODetector) DetectObjects(img gocv.Mat) ([]Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if img.Empty() {
		return nil, ErrEmptyImage
	}

	imgW := float32(img.Cols())
	imgH := float32(img.Rows())

	blob := gocv.BlobFromImage(img, 1.0/255.0, d.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")

	output := d.net.Forward("")
	defer output.Close()

	// Output shape: [1, 84, 8400] - 84 = 4 bbox + 80 classes, 8400 candidates
	sizes := output.Size()
	if len(sizes) == 3 {
		reshaped := output.Reshape(1, sizes[1])
		defer reshaped.Close()
		output = reshaped
	}

	objects, err := d.parseOutput(output, imgW, imgH)
	if err != nil {
		return nil, err
	}

	if len(objects) > 0 {
		log.Debug("yolo objects", "count", len(objects))
	}

	return objects, nil
}

// parseOutput decodes the transposed YOLOv8 tensor and applies NMS
func (d *YOLODetector) parseOutput(output gocv.Mat, imgW, imgH float32) ([]Object, error) {
	var boxes []image.Rectangle
	var confidences []float32
	var classIDs []int

	rows := output.Cols() // candidates
	cols := output.Rows() // 4 bbox + class scores

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read yolo output: %w", err)
	}

	scaleX := imgW / float32(d.config.InputWidth)
	scaleY := imgH / float32(d.config.InputHeight)

	for i := 0; i < rows; i++ {
		maxScore := float32(0)
		maxClassID := 0

		for c := 4; c < cols; c++ {
			score := data[c*rows+i]
			if score > maxScore {
				maxScore = score
				maxClassID = c - 4
			}
		}

		if maxScore < d.config.ConfidenceThresh {
			continue
		}
		if len(d.classes) > 0 && !d.classes[maxClassID] {
			continue
		}

		cx := data[0*rows+i]
		cy := data[1*rows+i]
		w := data[2*rows+i]
		h := data[3*rows+i]

		x1 := int((cx - w/2) * scaleX)
		y1 := int((cy - h/2) * scaleY)
		x2 := int((cx + w/2) * scaleX)
		y2 := int((cy + h/2) * scaleY)

		boxes = append(boxes, image.Rect(x1, y1, x2, y2))
		confidences = append(confidences, maxScore)
		classIDs = append(classIDs, maxClassID)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, confidences, d.config.ConfidenceThresh, d.config.NMSThresh)

	objects := make([]Object, 0, len(indices))
	for _, idx := range indices {
		objects = append(objects, Object{
			Box:        BoxFromRect(boxes[idx]),
			Confidence: float64(confidences[idx]),
			ClassID:    classIDs[idx],
			ClassName:  ClassName(classIDs[idx]),
		})
	}

	return objects, nil
}

// Close releases the detector resources
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.net.Close()
	return nil
}
