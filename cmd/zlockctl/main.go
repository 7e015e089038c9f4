package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Luzifer/rconfig"
	"github.com/cenkalti/backoff"
	"github.com/pixperk/zlock/pkg/backend/etcd"
	"github.com/pixperk/zlock/pkg/backend/zk"
	"github.com/pixperk/zlock/pkg/client"
	"github.com/pixperk/zlock/pkg/lock"
	"github.com/pixperk/zlock/pkg/types"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var config struct {
	Backend    string        `flag:"backend" env:"ZLOCKCTL_BACKEND" default:"zlock" description:"Coordination backend (zlock, etcd, zookeeper)"`
	Endpoints  []string      `flag:"endpoints" env:"ZLOCKCTL_ENDPOINTS" default:"localhost:9000" description:"Comma separated backend endpoints"`
	Root       string        `flag:"root" env:"ZLOCKCTL_ROOT" default:"/zlock" description:"Prefix lock records are kept under"`
	InitialTTL time.Duration `flag:"initial-ttl" default:"10s" description:"Lease attached to the record on acquire"`
	RenewalTTL time.Duration `flag:"renewal-ttl" default:"30s" description:"Lease the record moves to on the first renewal"`
	Wait       time.Duration `flag:"wait" default:"30s" description:"How long acquire keeps retrying, zero tries once"`
	Hold       time.Duration `flag:"hold" default:"0s" description:"How long hold keeps the lock, zero waits for a signal"`
	Trace      bool          `flag:"trace" default:"false" description:"Print lock spans to stdout"`
	LogLevel   string        `flag:"log-level" default:"info" description:"Log level (debug, info, warn, error)"`
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: zlockctl [flags] try <name>\n")
	fmt.Fprintf(os.Stderr, "       zlockctl [flags] hold <name>\n")
	fmt.Fprintf(os.Stderr, "       zlockctl [flags] run <name> -- <command> [args...]\n")
	rconfig.Usage()
}

func main() {
	if err := rconfig.Parse(&config); err != nil {
		log.WithError(err).Fatal("unable to parse commandline options")
	}
	level, err := log.ParseLevel(config.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid log level")
	}
	log.SetLevel(level)

	args := rconfig.Args()
	if len(args) > 0 && !isCommand(args[0]) {
		//some flag parsers keep the program name
		args = args[1:]
	}
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, name := args[0], args[1]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []lock.Option{
		lock.WithRoot(config.Root),
		lock.WithLeaseParams(types.LeaseParams{InitialTTL: config.InitialTTL, RenewalTTL: config.RenewalTTL}),
		lock.WithOnLost(func(name string, err error) {
			log.WithError(err).WithField("lock", name).Error("lock lost")
			stop()
		}),
	}

	flushTraces := func() {}
	if config.Trace {
		tp, flush, err := newTracing(os.Stdout)
		if err != nil {
			log.WithError(err).Fatal("unable to create trace exporter")
		}
		flushTraces = flush
		opts = append(opts, lock.WithTracerProvider(tp))
	}

	locker, closeBackend, err := newLocker(opts)
	if err != nil {
		flushTraces()
		log.WithError(err).Fatal("unable to connect to backend")
	}

	code := 0
	if err := runCommand(ctx, locker, cmd, name, args[2:]); err != nil {
		log.WithError(err).WithField("lock", name).Error(cmd + " failed")
		code = 1
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := locker.Close(closeCtx); err != nil {
		log.WithError(err).Warn("unable to release held locks")
		code = 1
	}
	cancel()

	//os.Exit skips deferred calls
	stop()
	closeBackend()
	flushTraces()
	os.Exit(code)
}

// spans are batched, the returned flush must run before the process exits
func newTracing(w io.Writer) (*sdktrace.TracerProvider, func(), error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	flush := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("unable to flush spans")
		}
	}
	return tp, flush, nil
}

func isCommand(s string) bool {
	switch s {
	case "try", "hold", "run":
		return true
	}
	return false
}

func newLocker(opts []lock.Option) (*lock.Locker, func(), error) {
	switch config.Backend {
	case "zlock":
		c, err := client.NewClient(config.Endpoints[0])
		if err != nil {
			return nil, nil, err
		}
		return c.Locker(opts...), func() { c.Close() }, nil

	case "etcd":
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   config.Endpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return lock.NewRevisionLocker(etcd.New(cli), opts...), func() { cli.Close() }, nil

	case "zookeeper", "zk":
		tree, closeConn, err := zk.Dial(config.Endpoints, 10*time.Second)
		if err != nil {
			return nil, nil, err
		}
		return lock.NewSequenceLocker(tree, opts...), closeConn, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", config.Backend)
	}
}

func runCommand(ctx context.Context, locker *lock.Locker, cmd, name string, rest []string) error {
	switch cmd {
	case "try":
		ok, err := locker.TryAcquire(ctx, name)
		if err != nil {
			return err
		}
		if !ok {
			return lock.ErrNotAcquired
		}
		log.WithField("lock", name).Info("acquired")
		_, err = locker.Release(ctx, name)
		return err

	case "hold":
		if err := acquire(ctx, locker, name); err != nil {
			return err
		}
		log.WithField("lock", name).Info("acquired, holding")

		var timeout <-chan time.Time
		if config.Hold > 0 {
			timeout = time.After(config.Hold)
		}
		select {
		case <-ctx.Done():
		case <-timeout:
		case <-locker.Lost(name):
			return types.ErrRenewalLost
		}
		_, err := locker.Release(context.Background(), name)
		return err

	case "run":
		if len(rest) > 0 && rest[0] == "--" {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			return errors.New("run needs a command")
		}
		if err := acquire(ctx, locker, name); err != nil {
			return err
		}
		log.WithFields(log.Fields{"lock": name, "command": strings.Join(rest, " ")}).Info("acquired, running")

		//the child is killed if the lock is lost
		c := exec.CommandContext(ctx, rest[0], rest[1:]...)
		c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
		runErr := c.Run()

		_, err := locker.Release(context.Background(), name)
		return errors.Join(runErr, err)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func acquire(ctx context.Context, locker *lock.Locker, name string) error {
	if config.Wait <= 0 {
		ok, err := locker.TryAcquire(ctx, name)
		if err != nil {
			return err
		}
		if !ok {
			return lock.ErrNotAcquired
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = config.Wait
	return locker.Acquire(ctx, name, b)
}
