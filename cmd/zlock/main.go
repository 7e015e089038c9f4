package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Luzifer/rconfig"
	"github.com/google/uuid"
	pb "github.com/pixperk/zlock/api/v1"
	"github.com/pixperk/zlock/pkg/gateway"
	"github.com/pixperk/zlock/pkg/raft"
	"github.com/pixperk/zlock/pkg/server"
	"github.com/pixperk/zlock/pkg/synchronizer"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

var config struct {
	NodeID        string        `flag:"node-id" env:"ZLOCK_NODE_ID" default:"" description:"Unique node ID (generates UUID if empty)"`
	RaftAddr      string        `flag:"raft-addr" env:"ZLOCK_RAFT_ADDR" default:"127.0.0.1:7000" description:"Raft bind address"`
	AdvertiseAddr string        `flag:"advertise-addr" env:"ZLOCK_ADVERTISE_ADDR" default:"" description:"Raft address peers dial, defaults to the bind address"`
	GRPCAddr      string        `flag:"grpc-addr" env:"ZLOCK_GRPC_ADDR" default:":9000" description:"gRPC server address"`
	HTTPAddr      string        `flag:"http-addr" env:"ZLOCK_HTTP_ADDR" default:":8080" description:"HTTP admin gateway address"`
	DataDir       string        `flag:"data-dir" env:"ZLOCK_DATA_DIR" default:"./data" description:"Data directory for Raft storage"`
	Bootstrap     bool          `flag:"bootstrap" env:"ZLOCK_BOOTSTRAP" default:"false" description:"Bootstrap a new cluster"`
	Peers         []string      `flag:"peer" env:"ZLOCK_PEERS" default:"" description:"id=raft-addr of a voter the bootstrap node adds once it leads"`
	Root          string        `flag:"root" env:"ZLOCK_ROOT" default:"/zlock" description:"Key prefix the gateway reads lock records from"`
	ExpiryTick    time.Duration `flag:"expiry-interval" default:"100ms" description:"How often the leader expires leases"`
	LogLevel      string        `flag:"log-level" env:"ZLOCK_LOG_LEVEL" default:"info" description:"Log level (debug, info, warn, error)"`
	ShutdownWait  time.Duration `flag:"shutdown-timeout" default:"10s" description:"Time to wait for in-flight requests when shutting down"`
}

func init() {
	if err := rconfig.Parse(&config); err != nil {
		log.WithError(err).Fatal("unable to parse commandline options")
	}

	level, err := log.ParseLevel(config.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid log level")
	}
	log.SetLevel(level)
}

func main() {
	nid := uuid.New()
	if config.NodeID != "" {
		var err error
		if nid, err = uuid.Parse(config.NodeID); err != nil {
			log.WithError(err).Fatal("invalid node id")
		}
	}

	logger := log.WithField("node", nid.String())
	logger.WithFields(log.Fields{
		"raft":      config.RaftAddr,
		"grpc":      config.GRPCAddr,
		"http":      config.HTTPAddr,
		"data":      config.DataDir,
		"bootstrap": config.Bootstrap,
	}).Info("starting zlock node")

	node, err := raft.NewNode(&raft.Config{
		NodeID:         nid,
		BindAddr:       config.RaftAddr,
		AdvertiseAddr:  config.AdvertiseAddr,
		DataDir:        config.DataDir,
		Bootstrap:      config.Bootstrap,
		ExpiryInterval: config.ExpiryTick,
		Logger:         logger.WithField("component", "raft"),
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create raft node")
	}
	defer func() {
		if err := node.Shutdown(); err != nil {
			logger.WithError(err).Warn("raft shutdown")
		}
	}()

	grpcServer := grpc.NewServer()
	pb.RegisterStoreServer(grpcServer, server.NewServer(node))

	listener, err := net.Listen("tcp", config.GRPCAddr)
	if err != nil {
		logger.WithError(err).Fatalf("failed to listen on %s", config.GRPCAddr)
	}

	gwServer := gateway.NewServer(config.HTTPAddr, node, rootOrDefault(config.Root))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("gRPC server listening on %s", config.GRPCAddr)
		return grpcServer.Serve(listener)
	})

	g.Go(func() error {
		logger.Infof("HTTP gateway listening on %s", config.HTTPAddr)
		return gwServer.Start()
	})

	if config.Bootstrap && len(config.Peers) > 0 {
		g.Go(func() error {
			joinPeers(ctx, node, logger)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownWait)
		defer cancel()

		grpcServer.GracefulStop()
		return gwServer.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		logger.WithError(err).Error("node stopped with error")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// adds the configured voters once this node leads the cluster
func joinPeers(ctx context.Context, node *raft.Node, logger *log.Entry) {
	if err := node.WaitForLeader(30 * time.Second); err != nil {
		logger.WithError(err).Warn("not joining peers")
		return
	}
	if !node.IsLeader() {
		return
	}

	for _, peer := range config.Peers {
		if peer == "" {
			continue
		}
		id, addr, ok := strings.Cut(peer, "=")
		if !ok {
			logger.WithField("peer", peer).Warn("peer must be id=raft-addr")
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if err := node.Join(id, addr); err != nil {
			logger.WithError(err).WithField("peer", id).Warn("failed to add voter")
			continue
		}
		logger.WithFields(log.Fields{"peer": id, "addr": addr}).Info("added voter")
	}
}

func rootOrDefault(root string) string {
	if root == "" {
		return synchronizer.DefaultRoot
	}
	return root
}
