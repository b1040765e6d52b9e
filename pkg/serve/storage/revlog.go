// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/line/centraldogma-sub008/modules/cjson"
	"github.com/line/centraldogma-sub008/modules/plumbing"
)

const (
	// MAX_MAX_COMMITS bounds every range/history request.
	MAX_MAX_COMMITS = 100

	headFile = "HEAD"
)

// Record is one revision of the log: commit metadata plus the digest of the
// root tree it produced. Changes carries the normalized change list exactly
// as returned to the pusher.
type Record struct {
	Revision        plumbing.Revision `json:"revision"`
	Parent          plumbing.Revision `json:"parent"`
	Root            plumbing.Hash     `json:"root"`
	Author          string            `json:"author"`
	TimestampMillis int64             `json:"timestampMillis"`
	Summary         string            `json:"summary"`
	Detail          string            `json:"detail,omitempty"`
	Markup          plumbing.Markup   `json:"markup"`
	Changes         json.RawMessage   `json:"changes,omitempty"`
}

// RevLog is the ordered commit sequence of one repository. Appends are the
// serialization point: at most one successful append per revision, enforced
// by an in-process mutex plus a directory flock against foreign processes.
type RevLog struct {
	dir  string
	lk   *flock.Flock
	mu   sync.Mutex
	head plumbing.Revision
}

func recordName(rev plumbing.Revision) string {
	return fmt.Sprintf("%012d", rev)
}

// OpenRevLog opens (creating if needed) the log stored in dir and recovers
// from a crash between record rename and head update: a fully formed record
// at head+1 rolls the head forward.
func OpenRevLog(dir string) (*RevLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	lk := flock.New(filepath.Join(dir, "refs.lock"))
	locked, err := lk.TryLock()
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("storage: revision log %s locked by another process", dir)
	}
	l := &RevLog{dir: dir, lk: lk}
	if err := l.recover(); err != nil {
		_ = lk.Unlock()
		return nil, err
	}
	return l, nil
}

func (l *RevLog) recover() error {
	head := plumbing.Revision(0)
	raw, err := os.ReadFile(filepath.Join(l.dir, headFile))
	switch {
	case err == nil:
		n, perr := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if perr != nil {
			return fmt.Errorf("storage: corrupt HEAD in %s: %w", l.dir, perr)
		}
		head = plumbing.Revision(n)
	case !os.IsNotExist(err):
		return err
	}
	// Roll forward: the record is written and renamed before HEAD moves, so
	// a fully formed record at head+1 means the append completed.
	for {
		rec, err := l.read(head + 1)
		if err != nil {
			if plumbing.IsErrRevisionNotFound(err) {
				break
			}
			return err
		}
		if rec.Revision != head+1 {
			return fmt.Errorf("storage: record %d carries revision %d", head+1, rec.Revision)
		}
		head++
	}
	l.head = head
	if head > 0 {
		return l.writeHead(head)
	}
	return nil
}

func (l *RevLog) Close() error {
	if l.lk != nil {
		return l.lk.Unlock()
	}
	return nil
}

// Head returns the latest revision, or 0 when the log is empty.
func (l *RevLog) Head() plumbing.Revision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

func (l *RevLog) read(rev plumbing.Revision) (*Record, error) {
	raw, err := os.ReadFile(filepath.Join(l.dir, recordName(rev)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, plumbing.NewErrRevisionNotFound("revision %d does not exist", rev)
		}
		return nil, err
	}
	var rec Record
	if err := unmarshalStrict(raw, &rec); err != nil {
		return nil, fmt.Errorf("storage: corrupt record %d: %w", rev, err)
	}
	return &rec, nil
}

// Get returns the record of an absolute revision.
func (l *RevLog) Get(rev plumbing.Revision) (*Record, error) {
	if rev < plumbing.INIT {
		return nil, plumbing.NewErrRevisionNotFound("revision %d does not exist", rev)
	}
	if rev > l.Head() {
		return nil, plumbing.NewErrRevisionNotFound("revision %d does not exist (head: %d)", rev, l.Head())
	}
	return l.read(rev)
}

// Append writes the next record. rec.Parent must name the current head;
// anything else is a conflict. On success rec.Revision is assigned head+1
// and becomes the new head.
func (l *RevLog) Append(rec *Record) (plumbing.Revision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.Parent != l.head {
		return 0, plumbing.NewErrChangeConflict("commit conflict: parent %d is not head %d", rec.Parent, l.head)
	}
	rec.Revision = l.head + 1
	payload, err := cjson.Canonicalize(mustJSON(rec))
	if err != nil {
		return 0, err
	}
	if err := l.writeAtomic(recordName(rec.Revision), payload); err != nil {
		return 0, err
	}
	if err := l.writeHead(rec.Revision); err != nil {
		return 0, err
	}
	l.head = rec.Revision
	return rec.Revision, nil
}

func (l *RevLog) writeHead(rev plumbing.Revision) error {
	return l.writeAtomic(headFile, []byte(rev.String()+"\n"))
}

func (l *RevLog) writeAtomic(name string, payload []byte) error {
	fd, err := os.CreateTemp(l.dir, "tmp-*")
	if err != nil {
		return err
	}
	tmp := fd.Name()
	defer func() {
		if fd != nil {
			_ = fd.Close()
		}
		_ = os.Remove(tmp)
	}()
	if _, err := fd.Write(payload); err != nil {
		return err
	}
	if err := fd.Sync(); err != nil {
		return err
	}
	if err := fd.Close(); err != nil {
		fd = nil
		return err
	}
	fd = nil
	return os.Rename(tmp, filepath.Join(l.dir, name))
}

// Range returns records between from and to inclusive, both absolute,
// ordered from "from" toward "to" and truncated to maxCount (clipped to
// MAX_MAX_COMMITS).
func (l *RevLog) Range(from, to plumbing.Revision, maxCount int) ([]*Record, error) {
	head := l.Head()
	if from < plumbing.INIT || from > head || to < plumbing.INIT || to > head {
		return nil, plumbing.NewErrRevisionNotFound("range [%d, %d] outside [1, %d]", from, to, head)
	}
	if maxCount <= 0 || maxCount > MAX_MAX_COMMITS {
		maxCount = MAX_MAX_COMMITS
	}
	step := plumbing.Revision(1)
	if from > to {
		step = -1
	}
	var out []*Record
	for rev := from; len(out) < maxCount; rev += step {
		rec, err := l.read(rev)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		if rev == to {
			break
		}
	}
	return out, nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func unmarshalStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	return dec.Decode(v)
}
