package grpcclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/saddle-fit/internal/logging"
	"github.com/example/saddle-fit/internal/pose"
)

const (
	// DetectMethod is the unary RPC exposed by the pose detector sidecar.
	DetectMethod = "/pose.v1.PoseDetector/DetectLandmarks"

	widthKey  = "x-frame-width"
	heightKey = "x-frame-height"
)

// DialPoseDetector returns a ready-to-use gRPC pose detector.
func DialPoseDetector(ctx context.Context, addr string, logger *zap.Logger) (pose.Detector, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_pose_detector", "", err)
		logger.Error("failed to dial pose detector", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewPoseDetector(conn, logger), conn, nil
}

// NewPoseDetector wraps an existing connection.
func NewPoseDetector(conn grpc.ClientConnInterface, logger *zap.Logger) pose.Detector {
	return &grpcPoseDetector{conn: conn, logger: logger}
}

type grpcPoseDetector struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcPoseDetector) Detect(ctx context.Context, frame *pose.Frame) (pose.Landmarks, error) {
	ctx = metadata.AppendToOutgoingContext(ctx,
		widthKey, strconv.Itoa(frame.Width),
		heightKey, strconv.Itoa(frame.Height),
	)

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, DetectMethod, wrapperspb.Bytes(frame.RGB), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.detect_landmarks", "", err)
		g.logger.Error("pose detector call failed", zap.Error(wrapped),
			zap.Int("width", frame.Width), zap.Int("height", frame.Height))
		return nil, wrapped
	}
	return DecodeLandmarks(resp)
}

// DecodeLandmarks reads the `landmarks` list of a detector response.
// An absent or empty list means no person was found.
func DecodeLandmarks(resp *structpb.Struct) (pose.Landmarks, error) {
	list := resp.GetFields()["landmarks"].GetListValue()
	if list == nil || len(list.GetValues()) == 0 {
		return nil, pose.ErrNoLandmarks
	}

	marks := make(pose.Landmarks, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		if fields == nil {
			return nil, fmt.Errorf("landmark %d: expected object, got %T", i, v.GetKind())
		}
		marks = append(marks, pose.Point{
			X:          fields["x"].GetNumberValue(),
			Y:          fields["y"].GetNumberValue(),
			Z:          fields["z"].GetNumberValue(),
			Visibility: fields["visibility"].GetNumberValue(),
		})
	}
	return marks, nil
}
