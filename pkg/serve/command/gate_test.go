// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"testing"

	"github.com/line/centraldogma-sub008/modules/plumbing"
)

func pushCommand(project, repo string) *Command {
	return &Command{Type: Push, Author: "tester", Project: project, Repo: repo}
}

func TestGateShutdownSticky(t *testing.T) {
	g := NewGate(nil)
	if err := g.Check(pushCommand("p", "r")); err != nil {
		t.Fatal(err)
	}
	g.ShutDown()
	if err := g.Check(pushCommand("p", "r")); !plumbing.IsErrShuttingDown(err) {
		t.Fatalf("after shutdown: %v", err)
	}
	// There is no way back.
	g.SetStatus(Writable)
	if err := g.Check(pushCommand("p", "r")); !plumbing.IsErrShuttingDown(err) {
		t.Fatalf("shutdown must be sticky: %v", err)
	}
}

func TestGateReplicationOnly(t *testing.T) {
	g := NewGate(nil)
	g.SetStatus(ReplicationOnly)
	if err := g.Check(pushCommand("p", "r")); !plumbing.IsErrReadOnly(err) {
		t.Fatalf("push in replication-only mode: %v", err)
	}
	if err := g.Check(&Command{Type: CreateProject, Project: "p"}); !plumbing.IsErrReadOnly(err) {
		t.Fatalf("create in replication-only mode: %v", err)
	}
	// Administrative commands still pass.
	if err := g.Check(&Command{Type: ForcePush, Project: "p", Repo: "r"}); err != nil {
		t.Fatalf("force push must bypass read-only: %v", err)
	}
	if err := g.Check(&Command{Type: UpdateServerStatus, ServerStatus: Writable}); err != nil {
		t.Fatalf("status transition must bypass read-only: %v", err)
	}
	g.SetStatus(Writable)
	if err := g.Check(pushCommand("p", "r")); err != nil {
		t.Fatalf("back to writable: %v", err)
	}
}

func TestQuotaRegistry(t *testing.T) {
	r := NewQuotaRegistry(nil)
	// No default, no per-repo bucket: unlimited.
	for n := 0; n < 100; n++ {
		if !r.Allow("p", "r") {
			t.Fatal("no quota must mean unlimited")
		}
	}
	r.SetQuota("p", "r", &WriteQuota{Permits: 2, PeriodSeconds: 60})
	allowed := 0
	for n := 0; n < 10; n++ {
		if r.Allow("p", "r") {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("burst: allowed %d writes, want 2", allowed)
	}
	// Other repositories are unaffected.
	if !r.Allow("p", "other") {
		t.Fatal("quota must be scoped per repository")
	}
	// Clearing the bucket restores the default (none).
	r.SetQuota("p", "r", nil)
	if !r.Allow("p", "r") {
		t.Fatal("cleared quota must allow again")
	}
}

func TestQuotaDefault(t *testing.T) {
	r := NewQuotaRegistry(&WriteQuota{Permits: 1, PeriodSeconds: 3600})
	if !r.Allow("p", "r") {
		t.Fatal("first write passes")
	}
	if r.Allow("p", "r") {
		t.Fatal("default bucket must throttle the second write")
	}
}

func TestGateQuota(t *testing.T) {
	quotas := NewQuotaRegistry(&WriteQuota{Permits: 1, PeriodSeconds: 3600})
	g := NewGate(quotas)
	if err := g.Check(pushCommand("p", "r")); err != nil {
		t.Fatal(err)
	}
	if err := g.Check(pushCommand("p", "r")); !plumbing.IsErrQuotaExceeded(err) {
		t.Fatalf("second push: %v", err)
	}
	// Non-push commands consume no permits.
	if err := g.Check(&Command{Type: CreateRepository, Project: "p", Repo: "r2"}); err != nil {
		t.Fatalf("create: %v", err)
	}
}
