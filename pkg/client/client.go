package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	pb "github.com/pixperk/zlock/api/v1"
	"github.com/pixperk/zlock/pkg/backend"
	"github.com/pixperk/zlock/pkg/types"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Client talks to a zlock node and serves it as a backend.KV,
// so the revision synchronizer runs unchanged against a remote node
type Client struct {
	addr   string
	conn   *grpc.ClientConn
	client pb.StoreClient
	log    *logrus.Entry
}

var _ backend.KV = (*Client)(nil)

// dials addr, insecure unless opts carry transport credentials
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &Client{
		addr:   addr,
		conn:   conn,
		client: pb.NewStoreClient(conn),
		log:    logrus.WithFields(logrus.Fields{"component": "client", "addr": addr}),
	}, nil
}

func (c *Client) Grant(ctx context.Context, ttl time.Duration) (types.LeaseGrant, error) {
	resp, err := c.client.Grant(ctx, &pb.GrantRequest{TTL: ttl})
	if err != nil {
		return types.LeaseGrant{}, fmt.Errorf("grant: %w", fromGRPCError(err))
	}
	return types.LeaseGrant{ID: resp.LeaseID, TTL: resp.TTL}, nil
}

func (c *Client) KeepAliveOnce(ctx context.Context, leaseID int64) (time.Duration, error) {
	resp, err := c.client.KeepAlive(ctx, &pb.KeepAliveRequest{LeaseID: leaseID})
	if err != nil {
		return 0, fmt.Errorf("keep alive %d: %w", leaseID, fromGRPCError(err))
	}
	return resp.TTL, nil
}

func (c *Client) Revoke(ctx context.Context, leaseID int64) error {
	if _, err := c.client.Revoke(ctx, &pb.RevokeRequest{LeaseID: leaseID}); err != nil {
		return fmt.Errorf("revoke %d: %w", leaseID, fromGRPCError(err))
	}
	return nil
}

func (c *Client) Put(ctx context.Context, key, value string, leaseID int64) (int64, error) {
	resp, err := c.client.Put(ctx, &pb.PutRequest{Key: key, Value: value, LeaseID: leaseID})
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, fromGRPCError(err))
	}
	return resp.Revision, nil
}

func (c *Client) CompareAndPut(ctx context.Context, key, value string, leaseID, createRevision int64) (bool, error) {
	resp, err := c.client.CompareAndPut(ctx, &pb.CompareAndPutRequest{
		Key:            key,
		Value:          value,
		LeaseID:        leaseID,
		CreateRevision: createRevision,
	})
	if err != nil {
		return false, fmt.Errorf("compare and put %s: %w", key, fromGRPCError(err))
	}
	return resp.Succeeded, nil
}

func (c *Client) Get(ctx context.Context, key string) (*types.KeyValue, error) {
	resp, err := c.client.Get(ctx, &pb.GetRequest{Key: key})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, fromGRPCError(err))
	}
	return resp.KV, nil
}

func (c *Client) Range(ctx context.Context, prefix string) ([]types.KeyValue, error) {
	resp, err := c.client.Range(ctx, &pb.RangeRequest{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", prefix, fromGRPCError(err))
	}
	return resp.KVs, nil
}

func (c *Client) Delete(ctx context.Context, key string) (int64, error) {
	resp, err := c.client.Delete(ctx, &pb.DeleteRequest{Key: key})
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", key, fromGRPCError(err))
	}
	return resp.Deleted, nil
}

func (c *Client) Status(ctx context.Context) (*pb.StatusResponse, error) {
	resp, err := c.client.Status(ctx, &pb.StatusRequest{})
	if err != nil {
		return nil, fmt.Errorf("status: %w", fromGRPCError(err))
	}
	return resp, nil
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// maps gRPC status codes back to the store's sentinel errors
func fromGRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", types.ErrLeaseNotFound, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", types.ErrLeaseExpired, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", types.ErrInvalidLeaseTTL, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	case codes.Unavailable:
		//either a follower or a node we cannot reach
		if strings.Contains(st.Message(), types.ErrNotLeader.Error()) {
			return fmt.Errorf("%w: %s", types.ErrNotLeader, st.Message())
		}
		return err
	default:
		return err
	}
}
