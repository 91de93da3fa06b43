// Package pose defines the contract between the service and an external
// single-image body-landmark detector.
//
// Landmarks follow the MediaPipe Pose topology: 33 points indexed by ordinal,
// with x and y normalized to [0,1] over the frame width and height.
package pose

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoLandmarks reports that the detector found no body in the frame.
var ErrNoLandmarks = errors.New("no pose landmarks detected")

// Landmark is the ordinal of a keypoint in the detector output.
type Landmark int

const (
	Nose      Landmark = 0
	LeftHip   Landmark = 23
	RightHip  Landmark = 24
	LeftHeel  Landmark = 29
	RightHeel Landmark = 30
)

// LandmarkCount is the size of a complete landmark set.
const LandmarkCount = 33

func (l Landmark) String() string {
	switch l {
	case Nose:
		return "nose"
	case LeftHip:
		return "left_hip"
	case RightHip:
		return "right_hip"
	case LeftHeel:
		return "left_heel"
	case RightHeel:
		return "right_heel"
	default:
		return fmt.Sprintf("landmark_%d", int(l))
	}
}

// Point is one normalized keypoint.
type Point struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// Landmarks is the detector output for a single person, indexed by Landmark.
type Landmarks []Point

// Y returns the normalized vertical coordinate of mark.
func (l Landmarks) Y(mark Landmark) (float64, error) {
	if int(mark) < 0 || int(mark) >= len(l) {
		return 0, fmt.Errorf("%w: %s missing from %d landmarks", ErrNoLandmarks, mark, len(l))
	}
	return l[mark].Y, nil
}

// Frame is a decoded image in the detector's input layout: packed RGB24, row-major.
type Frame struct {
	Width  int
	Height int
	RGB    []byte
}

// Detector runs pose estimation on one frame. Implementations return
// ErrNoLandmarks (possibly wrapped) when nobody is found.
type Detector interface {
	Detect(ctx context.Context, frame *Frame) (Landmarks, error)
}

// Serialized guards d with a mutex so at most one detection runs at a time.
// Use it for detector backends that are not safe for concurrent calls.
func Serialized(d Detector) Detector {
	return &serialDetector{next: d}
}

type serialDetector struct {
	mu   sync.Mutex
	next Detector
}

func (s *serialDetector) Detect(ctx context.Context, frame *Frame) (Landmarks, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.next.Detect(ctx, frame)
}
