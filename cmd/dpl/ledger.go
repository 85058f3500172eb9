package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tomledger/dpl/pkg/ledger"
	"github.com/tomledger/dpl/pkg/operation"
	"github.com/tomledger/dpl/pkg/store"
	"github.com/tomledger/dpl/pkg/store/s3archive"
)

// newLedger builds a Ledger from the process-wide cfg. Every CLI
// subcommand is a one-shot process: it opens a Ledger against the shared
// on-disk store, performs one action, and disposes it before exiting —
// the filesystem (not process memory) is the coordination point across
// invocations, same as any other participant process this ledger tracks.
func newLedger(ctx context.Context) (*ledger.Ledger, error) {
	storeCfg := store.Config{
		BaseDir:             cfg.Store.BasePath,
		LockAcquireDeadline: cfg.Store.LockAcquireDeadline,
		LockRetryInterval:   cfg.Store.LockRetryInterval,
		StaleLockThreshold:  cfg.Store.StaleLockThreshold,
	}
	if cfg.Store.TrailEncoding == "msgpack" {
		storeCfg.TrailEncoding = store.MsgpackEncoding{}
	}
	if cfg.Archive.S3.Bucket != "" {
		sink, err := s3archive.New(ctx, s3archive.Config{
			Bucket: cfg.Archive.S3.Bucket, Prefix: cfg.Archive.S3.Prefix,
			Region: cfg.Archive.S3.Region, Endpoint: cfg.Archive.S3.Endpoint,
			UsePathStyle: cfg.Archive.S3.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("dpl: configure s3 archive: %w", err)
		}
		storeCfg.Archive = sink
	}

	return ledger.New(ledger.Config{
		Store: storeCfg,
		OperationConfig: operation.Config{
			HeartbeatInterval:  cfg.Heartbeat.Interval,
			HeartbeatJitter:    cfg.Heartbeat.Jitter,
			StalenessThreshold: cfg.Heartbeat.StalenessThreshold,
		},
	})
}

func currentPID() int { return os.Getpid() }
