// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
	"github.com/sirupsen/logrus"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

// ReplicationConfig wires one replica into the quorum log.
type ReplicationConfig struct {
	NodeID    string        `toml:"node_id"`
	Dir       string        `toml:"dir"`
	Bind      string        `toml:"bind"`
	Advertise string        `toml:"advertise,omitempty"`
	Bootstrap bool          `toml:"bootstrap,omitempty"`
	Peers     []PeerConfig  `toml:"peers,omitempty"`
	Timeout   time.Duration `toml:"-"`
}

type PeerConfig struct {
	ID   string `toml:"id"`
	Addr string `toml:"addr"`
	// API is the peer's HTTP listen address, used when forwarding commands
	// to the leader.
	API string `toml:"api,omitempty"`
}

// APIOf maps a raft address onto the peer's HTTP address.
func (rc *ReplicationConfig) APIOf(raftAddr string) string {
	for i := range rc.Peers {
		if rc.Peers[i].Addr == raftAddr {
			return rc.Peers[i].API
		}
	}
	return ""
}

// ForwardFunc submits a command to the current leader on behalf of a
// follower.
type ForwardFunc func(ctx context.Context, leaderAddr string, cmd *Command) (*Result, error)

// applyResponse crosses the FSM boundary; raft demands a plain value.
type applyResponse struct {
	Result *Result       `json:"result,omitempty"`
	Kind   plumbing.Kind `json:"kind,omitempty"`
	Err    string        `json:"error,omitempty"`
}

func (a *applyResponse) unpack() (*Result, error) {
	if len(a.Err) != 0 {
		if len(a.Kind) != 0 {
			return nil, plumbing.NewError(a.Kind, "%s", a.Err)
		}
		return nil, fmt.Errorf("%s", a.Err)
	}
	return a.Result, nil
}

// fsm applies committed log entries to local state in log order.
type fsm struct {
	applier Applier
}

func (f *fsm) Apply(l *raft.Log) any {
	cmd, err := Unmarshal(l.Data)
	if err != nil {
		return &applyResponse{Err: err.Error()}
	}
	res, err := f.applier.Apply(context.Background(), cmd)
	if err != nil {
		kind, _ := plumbing.KindOf(err)
		return &applyResponse{Kind: kind, Err: err.Error()}
	}
	return &applyResponse{Result: res}
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	return &headsSnapshot{heads: f.applier.RepoHeads()}, nil
}

// Restore only validates: repository state is durable outside the raft log,
// so a snapshot cannot rebuild commits. It records the heads the log
// compaction assumed present.
func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap struct {
		Heads map[string]int64 `json:"heads"`
	}
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return err
	}
	local := f.applier.RepoHeads()
	for key, head := range snap.Heads {
		if local[key] < head {
			logrus.Errorf("[raft] snapshot expects %s at revision %d, local head is %d; restore the data directory from backup", key, head, local[key])
		}
	}
	return nil
}

type headsSnapshot struct {
	heads map[string]int64
}

func (s *headsSnapshot) Persist(sink raft.SnapshotSink) error {
	err := json.NewEncoder(sink).Encode(map[string]any{"heads": s.heads})
	if err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *headsSnapshot) Release() {}

// Replicated totally orders commands across replicas: the leader proposes,
// a majority acknowledges, then every replica applies in log order.
// Followers forward to the leader.
type Replicated struct {
	ra      *raft.Raft
	gate    *Gate
	forward ForwardFunc
	timeout time.Duration
	stores  []io.Closer
}

// NewReplicated starts the raft node. forward is used when this replica is
// not the leader; a nil forward rejects writes on followers.
func NewReplicated(rc *ReplicationConfig, gate *Gate, applier Applier, forward ForwardFunc) (*Replicated, error) {
	if err := os.MkdirAll(rc.Dir, 0o755); err != nil {
		return nil, err
	}
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(rc.NodeID)
	store, err := raftboltdb.New(raftboltdb.Options{Path: filepath.Join(rc.Dir, "raft.db")})
	if err != nil {
		return nil, err
	}
	snaps, err := raft.NewFileSnapshotStore(rc.Dir, 2, os.Stderr)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	advertise := rc.Advertise
	if len(advertise) == 0 {
		advertise = rc.Bind
	}
	addr, err := net.ResolveTCPAddr("tcp", advertise)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	transport, err := raft.NewTCPTransport(rc.Bind, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ra, err := raft.NewRaft(cfg, &fsm{applier: applier}, store, store, snaps, transport)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if rc.Bootstrap {
		servers := make([]raft.Server, 0, len(rc.Peers)+1)
		servers = append(servers, raft.Server{ID: cfg.LocalID, Address: transport.LocalAddr()})
		for _, p := range rc.Peers {
			if p.ID == rc.NodeID {
				continue
			}
			servers = append(servers, raft.Server{ID: raft.ServerID(p.ID), Address: raft.ServerAddress(p.Addr)})
		}
		f := ra.BootstrapCluster(raft.Configuration{Servers: servers})
		if err := f.Error(); err != nil && err != raft.ErrCantBootstrap {
			logrus.Errorf("[raft] bootstrap error: %v", err)
		}
	}
	timeout := rc.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Replicated{ra: ra, gate: gate, forward: forward, timeout: timeout, stores: []io.Closer{store}}, nil
}

func (r *Replicated) Execute(ctx context.Context, cmd *Command) (*Result, error) {
	if err := r.gate.Check(cmd); err != nil {
		return nil, err
	}
	if r.ra.State() != raft.Leader {
		return r.forwardToLeader(ctx, cmd)
	}
	raw, err := cmd.Marshal()
	if err != nil {
		return nil, err
	}
	f := r.ra.Apply(raw, r.timeout)
	if err := f.Error(); err != nil {
		if err == raft.ErrNotLeader || err == raft.ErrLeadershipLost {
			return r.forwardToLeader(ctx, cmd)
		}
		return nil, err
	}
	resp, ok := f.Response().(*applyResponse)
	if !ok {
		return nil, fmt.Errorf("command: unexpected apply response %T", f.Response())
	}
	return resp.unpack()
}

func (r *Replicated) forwardToLeader(ctx context.Context, cmd *Command) (*Result, error) {
	leaderAddr, leaderID := r.ra.LeaderWithID()
	if len(leaderAddr) == 0 {
		return nil, plumbing.NewErrShuttingDown("no leader elected")
	}
	if r.forward == nil {
		return nil, plumbing.NewErrReadOnly("not the leader (leader: %s)", leaderID)
	}
	return r.forward(ctx, string(leaderAddr), cmd)
}

func (r *Replicated) IsLeader() bool {
	return r.ra.State() == raft.Leader
}

// LeaderAddr returns the raft address of the current leader, if any.
func (r *Replicated) LeaderAddr() string {
	addr, _ := r.ra.LeaderWithID()
	return string(addr)
}

func (r *Replicated) Close() error {
	err := r.ra.Shutdown().Error()
	for _, c := range r.stores {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
