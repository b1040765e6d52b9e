// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package mirror

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
)

func TestAccessController(t *testing.T) {
	ctl, err := NewAccessController([]AccessRule{
		{ID: "deny-internal", Pattern: "git+ssh://internal.example.com/**", Allow: false, Order: 0},
		{ID: "allow-example", Pattern: "*://*.example.com/**", Allow: true, Order: 10},
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if ctl.Allowed("git+ssh://internal.example.com/secret.git") {
		t.Fatal("the lower-order deny rule must win")
	}
	if !ctl.Allowed("https://git.example.com/conf.git") {
		t.Fatal("allow rule")
	}
	if ctl.Allowed("https://evil.example.org/conf.git") {
		t.Fatal("unmatched URIs fall back to defaultAllow")
	}
}

func TestAccessControllerOrder(t *testing.T) {
	// Declaration order is irrelevant; the Order field decides.
	ctl, err := NewAccessController([]AccessRule{
		{ID: "allow-all", Pattern: "**", Allow: true, Order: 5},
		{ID: "deny-one", Pattern: "https://blocked.example.com/**", Allow: false, Order: 1},
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if ctl.Allowed("https://blocked.example.com/x.git") {
		t.Fatal("order precedence")
	}
	if !ctl.Allowed("https://anything.else/x.git") {
		t.Fatal("catch-all rule")
	}
}

func TestAccessControllerEmpty(t *testing.T) {
	ctl, err := NewAccessController(nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if !ctl.Allowed("https://anywhere.example.com/x.git") {
		t.Fatal("an empty controller allows everything")
	}
	var nilCtl *AccessController
	if !nilCtl.Allowed("https://anywhere.example.com/x.git") {
		t.Fatal("a nil controller allows everything")
	}
}

func TestAccessControllerInvalidPattern(t *testing.T) {
	_, err := NewAccessController([]AccessRule{{ID: "broken", Pattern: "https://[", Allow: true}}, true)
	if !plumbing.IsErrBadRequest(err) {
		t.Fatalf("invalid pattern: %v", err)
	}
	_, err = NewAccessController([]AccessRule{{ID: "empty"}}, true)
	if !plumbing.IsErrBadRequest(err) {
		t.Fatalf("empty pattern: %v", err)
	}
}

func testSSHKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	return string(pem.EncodeToMemory(block))
}

func TestCredentialValidate(t *testing.T) {
	good := []*Credential{
		{Type: PasswordCredential, ID: "pw", Username: "alice", Password: "s3cret"},
		{Type: AccessTokenCredential, ID: "tok", AccessToken: "ghp_abc"},
		{Type: SSHKeyCredential, ID: "key", PrivateKey: testSSHKey(t)},
		{Type: NoneCredential},
	}
	for _, c := range good {
		if err := c.Validate(); err != nil {
			t.Fatalf("%s: %v", c.Type, err)
		}
	}
	bad := []*Credential{
		{Type: PasswordCredential, ID: "pw", Username: "alice"},
		{Type: PasswordCredential, ID: "pw", Password: "s3cret"},
		{Type: AccessTokenCredential, ID: "tok"},
		{Type: SSHKeyCredential, ID: "key", PrivateKey: "not a key"},
		{Type: CredentialType("KERBEROS"), ID: "x"},
		{Type: AccessTokenCredential, ID: "bad id", AccessToken: "t"},
	}
	for _, c := range bad {
		if err := c.Validate(); !plumbing.IsErrBadRequest(err) {
			t.Fatalf("%s %q: %v", c.Type, c.ID, err)
		}
	}
}

func testTask() *Task {
	return &Task{
		ID:        "sync-conf",
		Enabled:   true,
		Schedule:  "0 * * * *",
		Direction: RemoteToLocal,
		LocalRepo: "main",
		LocalPath: "/mirrored",
		RemoteURI: "https://git.example.com/conf.git",
	}
}

func TestTaskValidate(t *testing.T) {
	if err := testTask().Validate(); err != nil {
		t.Fatal(err)
	}
	daily := testTask()
	daily.Schedule = "@daily"
	if err := daily.Validate(); err != nil {
		t.Fatalf("descriptor schedule: %v", err)
	}
	mutations := []func(*Task){
		func(m *Task) { m.ID = "bad id" },
		func(m *Task) { m.Direction = "SIDEWAYS" },
		func(m *Task) { m.LocalRepo = "" },
		func(m *Task) { m.LocalPath = "relative" },
		func(m *Task) { m.RemoteURI = "" },
		func(m *Task) { m.Schedule = "every day at noon" },
	}
	for i, mutate := range mutations {
		m := testTask()
		mutate(m)
		if err := m.Validate(); !plumbing.IsErrBadRequest(err) {
			t.Fatalf("mutation %d: %v", i, err)
		}
	}
}

func TestSchedulerEligible(t *testing.T) {
	zones := ZoneConfig{Zone: "zone-a", DefaultZone: "zone-a", AllZones: []string{"zone-a", "zone-b"}}
	cases := []struct {
		name string
		zone ZoneConfig
		task string
		want bool
	}{
		{"single zone deployment", ZoneConfig{}, "", true},
		{"unpinned on default zone", zones, "", true},
		{"unpinned off default zone", ZoneConfig{Zone: "zone-b", DefaultZone: "zone-a", AllZones: zones.AllZones}, "", false},
		{"pinned to own zone", zones, "zone-a", true},
		{"pinned to other zone", zones, "zone-b", false},
		{"pinned to unknown zone", zones, "zone-x", false},
	}
	for _, c := range cases {
		s := NewScheduler(nil, nil, nil, c.zone, nil)
		task := testTask()
		task.Zone = c.task
		if got := s.eligible(task); got != c.want {
			t.Fatalf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
	s := NewScheduler(nil, nil, nil, ZoneConfig{}, nil)
	disabled := testTask()
	disabled.Enabled = false
	if s.eligible(disabled) {
		t.Fatal("disabled tasks never run")
	}
}

func newTestStore(t *testing.T) (*Store, *repo.Repository) {
	t.Helper()
	mgr, err := repo.NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Close)
	p, err := mgr.CreateProject("proj")
	if err != nil {
		t.Fatal(err)
	}
	dogma, err := p.CreateRepo(repo.DogmaRepo, "tester", 1700000000000)
	if err != nil {
		t.Fatal(err)
	}
	return NewStore(mgr), dogma
}

func pushDoc(t *testing.T, r *repo.Repository, path string, content string) {
	t.Helper()
	_, err := r.Push(context.Background(), plumbing.HEAD, "tester",
		&repo.CommitMessage{Summary: "add " + path}, []repo.Change{repo.NewUpsertJSON(path, []byte(content))})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStoreTasks(t *testing.T) {
	store, dogma := newTestStore(t)
	pushDoc(t, dogma, TaskPath("sync-conf"),
		`{"enabled":true,"schedule":"0 * * * *","direction":"REMOTE_TO_LOCAL","localRepo":"main","remoteUri":"https://git.example.com/conf.git","credentialId":"cred"}`)
	// A document that fails validation is skipped, not fatal.
	pushDoc(t, dogma, TaskPath("broken"),
		`{"enabled":true,"schedule":"0 * * * *","direction":"REMOTE_TO_LOCAL","localRepo":"main"}`)

	tasks, err := store.Tasks("proj")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks: %d", len(tasks))
	}
	task := tasks[0]
	if task.ID != "sync-conf" {
		t.Fatalf("ID comes from the file name: %q", task.ID)
	}
	if task.Project() != "proj" || task.Key() != "proj/sync-conf" {
		t.Fatalf("task identity: %q %q", task.Project(), task.Key())
	}
	if all := store.AllTasks(); len(all) != 1 {
		t.Fatalf("all tasks: %d", len(all))
	}
}

func TestStoreCredential(t *testing.T) {
	store, dogma := newTestStore(t)
	pushDoc(t, dogma, CredentialPath("cred"), `{"type":"ACCESS_TOKEN","id":"cred","accessToken":"tok"}`)

	c, err := store.Credential("proj", "cred")
	if err != nil {
		t.Fatal(err)
	}
	if c.Type != AccessTokenCredential || c.AccessToken != "tok" {
		t.Fatalf("credential: %+v", c)
	}
	if c, err := store.Credential("proj", ""); err != nil || c != None {
		t.Fatalf("empty reference resolves to None: %+v %v", c, err)
	}
	if _, err := store.Credential("proj", "missing"); !plumbing.IsErrEntryNotFound(err) {
		t.Fatalf("missing credential: %v", err)
	}
}

type fakeRunner struct {
	ran  []*Task
	cred *Credential
	res  *Result
	err  error
}

func (f *fakeRunner) Run(ctx context.Context, task *Task, cred *Credential) (*Result, error) {
	f.ran = append(f.ran, task)
	f.cred = cred
	return f.res, f.err
}

func TestRunNow(t *testing.T) {
	store, dogma := newTestStore(t)
	pushDoc(t, dogma, TaskPath("sync-conf"),
		`{"enabled":true,"schedule":"0 * * * *","direction":"REMOTE_TO_LOCAL","localRepo":"main","remoteUri":"https://git.example.com/conf.git","credentialId":"cred"}`)
	pushDoc(t, dogma, CredentialPath("cred"), `{"type":"ACCESS_TOKEN","id":"cred","accessToken":"tok"}`)

	runner := &fakeRunner{res: &Result{Status: Success, Revision: 7}}
	s := NewScheduler(store, runner, nil, ZoneConfig{}, nil)
	res, err := s.RunNow(context.Background(), "proj", "sync-conf")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != Success || res.Description != "mirrored to revision 7" {
		t.Fatalf("result: %+v", res)
	}
	if len(runner.ran) != 1 || runner.cred.AccessToken != "tok" {
		t.Fatalf("runner saw: %d runs, cred %+v", len(runner.ran), runner.cred)
	}

	if _, err := s.RunNow(context.Background(), "proj", "no-such"); !plumbing.IsErrEntryNotFound(err) {
		t.Fatalf("unknown task: %v", err)
	}
}

func TestRunNowDeniedRemote(t *testing.T) {
	store, dogma := newTestStore(t)
	pushDoc(t, dogma, TaskPath("sync-conf"),
		`{"enabled":true,"schedule":"0 * * * *","direction":"REMOTE_TO_LOCAL","localRepo":"main","remoteUri":"https://git.example.com/conf.git"}`)

	ctl, err := NewAccessController([]AccessRule{{ID: "deny", Pattern: "**", Allow: false}}, false)
	if err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{res: &Result{Status: Success}}
	s := NewScheduler(store, runner, ctl, ZoneConfig{}, nil)
	res, err := s.RunNow(context.Background(), "proj", "sync-conf")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != Failed || len(runner.ran) != 0 {
		t.Fatalf("denied remote must fail without running: %+v, %d runs", res, len(runner.ran))
	}
}
