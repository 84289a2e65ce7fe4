package detect

import (
	"fmt"
	"image"
	"sort"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/dashcam.report/internal/config"
	"github.com/banshee-data/dashcam.report/internal/core"
)

// nmsThreshold is the IoU above which a lower-scoring candidate is
// suppressed.
const nmsThreshold = 0.45

// DnnDetector runs a YOLO-family ONNX model through the OpenCV DNN
// module. Output layouts [1,C,N] and [1,N,C] are both handled, with the
// first four channels as cx,cy,w,h and the remainder as class scores.
type DnnDetector struct {
	net       gocv.Net
	inputW    int
	inputH    int
	confThres float32
}

// NewDnnDetector loads the model named by the config.
func NewDnnDetector(cfg config.InferenceConfig) (*DnnDetector, error) {
	net := gocv.ReadNet(cfg.Model.Path, cfg.Model.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("load model %s: network is empty", cfg.Model.Path)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &DnnDetector{
		net:       net,
		inputW:    cfg.Model.InputWidth,
		inputH:    cfg.Model.InputHeight,
		confThres: float32(cfg.ConfidenceThreshold),
	}, nil
}

// Detect implements Detector.
func (d *DnnDetector) Detect(pf core.PreprocessedFrame) (core.Detections, error) {
	out := core.Detections{
		InferenceTime:  time.Now(),
		SourceFrameID:  pf.SourceFrameID,
		PreprocessInfo: pf.Info,
	}
	if pf.Image.Ptr() == nil || pf.Image.Empty() {
		return out, nil
	}

	blob := gocv.BlobFromImage(pf.Image, 1.0/255.0, image.Pt(d.inputW, d.inputH),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	result := d.net.Forward("")
	defer result.Close()

	data, err := result.DataPtrFloat32()
	if err != nil {
		return out, fmt.Errorf("read detector output: %w", err)
	}

	dims := result.Size()
	if len(dims) != 3 || dims[0] != 1 {
		return out, fmt.Errorf("unexpected detector output shape %v", dims)
	}

	a, b := dims[1], dims[2]
	layoutCxN := a < b
	channels, n := a, b
	if !layoutCxN {
		channels, n = b, a
	}
	if channels < 6 {
		return out, fmt.Errorf("detector output has %d channels, want >= 6", channels)
	}
	numClasses := channels - 4

	at := func(c, i int) float32 {
		if layoutCxN {
			return data[c*n+i]
		}
		return data[i*channels+c]
	}

	// Boxes come out in model-input scale; map to the preprocessed frame.
	frameW := float32(pf.Image.Cols())
	frameH := float32(pf.Image.Rows())
	sx := frameW / float32(d.inputW)
	sy := frameH / float32(d.inputH)

	type candidate struct {
		box   core.BBox
		cls   int
		score float32
	}
	var cands []candidate

	for i := 0; i < n; i++ {
		cx := at(0, i)
		cy := at(1, i)
		w := at(2, i)
		h := at(3, i)

		bestCls := -1
		var best float32
		for c := 0; c < numClasses; c++ {
			if s := at(4+c, i); s > best {
				best = s
				bestCls = c
			}
		}
		if best < d.confThres {
			continue
		}

		x := (cx - 0.5*w) * sx
		y := (cy - 0.5*h) * sy
		bb := core.BBox{
			X: clamp(x, 0, frameW-1),
			Y: clamp(y, 0, frameH-1),
		}
		bb.W = clamp(w*sx, 0, frameW-bb.X)
		bb.H = clamp(h*sy, 0, frameH-bb.Y)
		if bb.W <= 1 || bb.H <= 1 {
			continue
		}

		cands = append(cands, candidate{box: bb, cls: bestCls, score: best})
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	var kept []candidate
	for _, c := range cands {
		suppressed := false
		for _, k := range kept {
			if k.cls != c.cls {
				continue
			}
			if core.IoU(c.box, k.box) > nmsThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}

	out.Items = make([]core.Detection, 0, len(kept))
	for _, k := range kept {
		out.Items = append(out.Items, core.Detection{
			BBox:       k.box,
			ClassID:    k.cls,
			Confidence: k.score,
		})
	}
	return out, nil
}

// Close implements Detector.
func (d *DnnDetector) Close() error {
	return d.net.Close()
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
