package server

import (
	"context"

	pb "github.com/pixperk/zlock/api/v1"
	"github.com/pixperk/zlock/pkg/raft"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Server struct {
	pb.UnimplementedStoreServer
	node *raft.Node
}

// wraps the raft node into a gRPC server
func NewServer(node *raft.Node) *Server {
	return &Server{
		node: node,
	}
}

func (s *Server) Grant(ctx context.Context, req *pb.GrantRequest) (*pb.GrantResponse, error) {
	if !s.node.IsLeader() {
		return nil, notLeaderError(s.node.Leader())
	}

	if req.TTL <= 0 {
		return nil, status.Error(codes.InvalidArgument, "ttl must be greater than 0")
	}

	grant, err := s.node.Grant(ctx, req.TTL)
	if err != nil {
		return nil, toGRPCError(err)
	}

	return &pb.GrantResponse{
		LeaseID: grant.ID,
		TTL:     grant.TTL,
	}, nil
}

func (s *Server) KeepAlive(ctx context.Context, req *pb.KeepAliveRequest) (*pb.KeepAliveResponse, error) {
	if !s.node.IsLeader() {
		return nil, notLeaderError(s.node.Leader())
	}

	ttl, err := s.node.KeepAliveOnce(ctx, req.LeaseID)
	if err != nil {
		return nil, toGRPCError(err)
	}

	return &pb.KeepAliveResponse{TTL: ttl}, nil
}

func (s *Server) Revoke(ctx context.Context, req *pb.RevokeRequest) (*pb.RevokeResponse, error) {
	if !s.node.IsLeader() {
		return nil, notLeaderError(s.node.Leader())
	}

	if err := s.node.Revoke(ctx, req.LeaseID); err != nil {
		return nil, toGRPCError(err)
	}
	return &pb.RevokeResponse{}, nil
}

func (s *Server) Put(ctx context.Context, req *pb.PutRequest) (*pb.PutResponse, error) {
	if !s.node.IsLeader() {
		return nil, notLeaderError(s.node.Leader())
	}

	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key required")
	}

	rev, err := s.node.Put(ctx, req.Key, req.Value, req.LeaseID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &pb.PutResponse{Revision: rev}, nil
}

func (s *Server) CompareAndPut(ctx context.Context, req *pb.CompareAndPutRequest) (*pb.CompareAndPutResponse, error) {
	if !s.node.IsLeader() {
		return nil, notLeaderError(s.node.Leader())
	}

	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key required")
	}

	ok, err := s.node.CompareAndPut(ctx, req.Key, req.Value, req.LeaseID, req.CreateRevision)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &pb.CompareAndPutResponse{Succeeded: ok}, nil
}

func (s *Server) Get(ctx context.Context, req *pb.GetRequest) (*pb.GetResponse, error) {
	if !s.node.IsLeader() {
		return nil, notLeaderError(s.node.Leader())
	}

	kv, err := s.node.Get(ctx, req.Key)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &pb.GetResponse{KV: kv}, nil
}

func (s *Server) Range(ctx context.Context, req *pb.RangeRequest) (*pb.RangeResponse, error) {
	if !s.node.IsLeader() {
		return nil, notLeaderError(s.node.Leader())
	}

	kvs, err := s.node.Range(ctx, req.Prefix)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &pb.RangeResponse{KVs: kvs}, nil
}

func (s *Server) Delete(ctx context.Context, req *pb.DeleteRequest) (*pb.DeleteResponse, error) {
	if !s.node.IsLeader() {
		return nil, notLeaderError(s.node.Leader())
	}

	deleted, err := s.node.Delete(ctx, req.Key)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &pb.DeleteResponse{Deleted: deleted}, nil
}

// any node answers status, followers included
func (s *Server) Status(ctx context.Context, req *pb.StatusRequest) (*pb.StatusResponse, error) {
	st := s.node.Status()

	return &pb.StatusResponse{
		NodeID:       st.NodeID,
		Addr:         st.Addr,
		Leader:       st.Leader,
		State:        st.State,
		AppliedIndex: st.AppliedIndex,
		Keys:         st.Store.Keys,
		Leases:       st.Store.Leases,
		Revision:     st.Store.Revision,
	}, nil
}
