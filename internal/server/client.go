package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/good-yellow-bee/lynx/internal/ingest"
)

// Client reports telemetry to the ingestion service. Agents and tests use it.
type Client struct {
	conn grpc.ClientConnInterface
	key  string
}

// NewClient creates a client sending key as the agent key on every call.
func NewClient(conn grpc.ClientConnInterface, key string) *Client {
	return &Client{conn: conn, key: key}
}

// ReportMetrics sends a snapshot.
func (c *Client) ReportMetrics(ctx context.Context, msg *ingest.MetricsMessage) (*ReportResponse, error) {
	out := new(ReportResponse)
	if err := c.conn.Invoke(c.outgoing(ctx), methodReportMetrics, msg, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}

// ReportDisk sends a disk sample.
func (c *Client) ReportDisk(ctx context.Context, msg *ingest.DiskMessage) (*ReportResponse, error) {
	out := new(ReportResponse)
	if err := c.conn.Invoke(c.outgoing(ctx), methodReportDisk, msg, out, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.key == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, AgentKeyMetadata, c.key)
}
