// Package client implements the install side of the sync protocol: fetch
// the server's reference dictionary, diff it against a precomputed local
// one, and download only the paths that differ.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/laj3/laj3/internal/dict"
	"github.com/laj3/laj3/internal/utils"
)

const (
	DefaultRetries     = 3
	DefaultDialTimeout = 10 * time.Second
	DefaultIdleTimeout = 60 * time.Second
)

// ErrTransferInterrupted marks a transient transport failure during a file
// transfer. Such files are retried on a fresh connection.
var ErrTransferInterrupted = errors.New("transfer interrupted")

type Config struct {
	// Addr is the server's host:port.
	Addr string

	// Project is the name sent in the protocol handshake.
	Project string

	// DictPath points at the precomputed local dictionary. Empty means an
	// empty local dictionary (first install). The dictionary is never
	// computed on the fly; a stale one is an accepted risk, not an error.
	DictPath string

	// Dest is the root directory files are installed into.
	Dest string

	// Delete removes local paths absent from the reference. Off by
	// default: removed entries are left on disk.
	Delete bool

	// Retries bounds per-file attempts on transient failure.
	Retries int

	DialTimeout time.Duration
	IdleTimeout time.Duration
}

func (c *Config) withDefaults() (Config, error) {
	out := *c
	if out.Addr == "" {
		return out, errors.New("server address cannot be empty")
	}
	if out.Project == "" {
		return out, errors.New("project name cannot be empty")
	}
	if out.Dest == "" {
		out.Dest = "."
	}
	dest, err := utils.ResolvePath(out.Dest)
	if err != nil {
		return out, err
	}
	out.Dest = dest
	if out.Retries <= 0 {
		out.Retries = DefaultRetries
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = DefaultIdleTimeout
	}
	return out, nil
}

// FileFailure records one path that could not be installed.
type FileFailure struct {
	Path string
	Err  error
}

// Result is the aggregate outcome of one install run. A run with failed
// files still persists everything that succeeded.
type Result struct {
	Downloaded   []string
	Failed       []FileFailure
	Deleted      []string
	Unchanged    int
	BytesWritten int64
}

// Ok reports full success.
func (r *Result) Ok() bool {
	return len(r.Failed) == 0
}

type Installer struct {
	config Config
	local  *dict.Dictionary
}

// New loads the local dictionary and validates the configuration.
func New(config Config) (*Installer, error) {
	cfg, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	local := dict.Empty()
	if cfg.DictPath != "" {
		local, err = dict.Load(cfg.DictPath)
		if err != nil {
			return nil, err
		}
	}

	return &Installer{config: cfg, local: local}, nil
}

// Run drives a whole sync: handshake, diff, transfer, optional deletions.
// Per-file failures end up in the Result; only a failure to establish the
// initial session is returned as an error.
func (in *Installer) Run(ctx context.Context) (*Result, error) {
	sess, err := in.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	changes := dict.Diff(sess.ref, in.local)
	result := &Result{Unchanged: len(changes.Unchanged)}

	slog.Info("diff computed",
		"added", len(changes.Added),
		"modified", len(changes.Modified),
		"removed", len(changes.Removed),
		"unchanged", len(changes.Unchanged),
	)

	in.fetchAll(ctx, sess, changes.TransferList(), result)
	in.applyRemovals(changes.Removed, result)
	return result, nil
}

// fetchAll downloads every path in the transfer list, reconnecting and
// retrying transient failures up to the per-file bound.
func (in *Installer) fetchAll(ctx context.Context, sess *session, pending []string, result *Result) {
	attempts := make(map[string]int)

	fail := func(path string, err error) {
		result.Failed = append(result.Failed, FileFailure{Path: path, Err: err})
		slog.Error("file failed", "path", path, "error", err)
	}

	for len(pending) > 0 && ctx.Err() == nil {
		if sess.dead() {
			fresh, err := in.connect(ctx)
			if err != nil {
				// No way forward; everything still pending has failed.
				for _, path := range pending {
					fail(path, fmt.Errorf("%w: %w", ErrTransferInterrupted, err))
				}
				return
			}
			*sess = *fresh
		}

		retry := pending[:0]
		outcomes := sess.fetch(ctx, pending, in.config, result)
		for _, oc := range outcomes {
			switch {
			case oc.err == nil:
				// done, nothing more to do
			case oc.permanent:
				fail(oc.path, oc.err)
			default:
				attempts[oc.path]++
				if attempts[oc.path] >= in.config.Retries {
					fail(oc.path, oc.err)
				} else {
					slog.Warn("retrying file", "path", oc.path, "attempt", attempts[oc.path], "error", oc.err)
					retry = append(retry, oc.path)
				}
			}
		}
		pending = retry
	}

	if ctx.Err() != nil {
		for _, path := range pending {
			fail(path, ctx.Err())
		}
	}
}

// applyRemovals deletes paths present locally but absent from the
// reference, only when explicitly enabled.
func (in *Installer) applyRemovals(removed []string, result *Result) {
	if !in.config.Delete {
		if len(removed) > 0 {
			slog.Info("leaving removed paths on disk", "count", len(removed))
		}
		return
	}

	for _, relPath := range removed {
		full, err := utils.SafeJoin(in.config.Dest, relPath)
		if err != nil {
			slog.Warn("refusing to delete outside destination", "path", relPath)
			continue
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			result.Failed = append(result.Failed, FileFailure{Path: relPath, Err: fmt.Errorf("delete: %w", err)})
			continue
		}
		result.Deleted = append(result.Deleted, relPath)
		slog.Info("deleted", "path", relPath)
	}
}
