package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Client calls ScreenshotService with the JSON content-subtype.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) ShotDynamic(ctx context.Context, in *ShotRequest, opts ...grpc.CallOption) (*ShotResult, error) {
	out := new(ShotResult)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ShotDynamic", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) QueueStats(ctx context.Context, opts ...grpc.CallOption) (*QueueStatsResult, error) {
	out := new(QueueStatsResult)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/QueueStats", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
