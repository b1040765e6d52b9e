// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package plumbing

import (
	"testing"
)

func TestResolve(t *testing.T) {
	head := Revision(7)
	cases := []struct {
		in   Revision
		want Revision
		ok   bool
	}{
		{1, 1, true},
		{7, 7, true},
		{8, 0, false},
		{-1, 7, true},
		{-2, 6, true},
		{-7, 1, true},
		{-8, 0, false},
		{0, 0, false},
	}
	for _, c := range cases {
		got, err := c.in.Resolve(head)
		if c.ok {
			if err != nil {
				t.Fatalf("resolve %d: %v", c.in, err)
			}
			if got != c.want {
				t.Fatalf("resolve %d: got %d, want %d", c.in, got, c.want)
			}
			continue
		}
		if err == nil {
			t.Fatalf("resolve %d: expected error, got %d", c.in, got)
		}
		if !IsErrRevisionNotFound(err) {
			t.Fatalf("resolve %d: unexpected error kind: %v", c.in, err)
		}
	}
}

func TestParseRevision(t *testing.T) {
	if r, err := ParseRevision("head"); err != nil || r != HEAD {
		t.Fatalf("parse head: %d %v", r, err)
	}
	if r, err := ParseRevision("HEAD"); err != nil || r != HEAD {
		t.Fatalf("parse HEAD: %d %v", r, err)
	}
	if r, err := ParseRevision("42"); err != nil || r != 42 {
		t.Fatalf("parse 42: %d %v", r, err)
	}
	if r, err := ParseRevision("-3"); err != nil || r != -3 {
		t.Fatalf("parse -3: %d %v", r, err)
	}
	for _, bad := range []string{"", "0", "abc", "1.5"} {
		if _, err := ParseRevision(bad); err == nil {
			t.Fatalf("parse %q: expected error", bad)
		}
	}
}

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"foo", "foo-bar", "a", "A1", "foo.bar", "foo_bar", "foo+bar", "7zip"} {
		if !ValidateName(ok) {
			t.Fatalf("expected %q to be valid", ok)
		}
	}
	for _, bad := range []string{"", ".foo", "foo.", "-foo", "foo-", "foo/bar", "foo bar", "foo.removed"} {
		if ValidateName(bad) {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
}

func TestSplitPath(t *testing.T) {
	canonical, segments, isDir, err := SplitPath("/a/b/c.json")
	if err != nil {
		t.Fatal(err)
	}
	if canonical != "/a/b/c.json" || isDir {
		t.Fatalf("got %q dir=%v", canonical, isDir)
	}
	if len(segments) != 3 || segments[2] != "c.json" {
		t.Fatalf("segments: %v", segments)
	}

	canonical, _, isDir, err = SplitPath("/a/b/")
	if err != nil {
		t.Fatal(err)
	}
	if canonical != "/a/b" || !isDir {
		t.Fatalf("got %q dir=%v", canonical, isDir)
	}

	canonical, segments, isDir, err = SplitPath("/")
	if err != nil {
		t.Fatal(err)
	}
	if canonical != "/" || !isDir || len(segments) != 0 {
		t.Fatalf("root: %q %v dir=%v", canonical, segments, isDir)
	}

	for _, bad := range []string{"", "a/b", "/a/../b", "/./a"} {
		if _, _, _, err := SplitPath(bad); err == nil {
			t.Fatalf("split %q: expected error", bad)
		}
	}
}

func TestParentDirs(t *testing.T) {
	dirs := ParentDirs("/a/b/c.json")
	if len(dirs) != 2 || dirs[0] != "/a" || dirs[1] != "/a/b" {
		t.Fatalf("parent dirs: %v", dirs)
	}
	if dirs := ParentDirs("/top.json"); len(dirs) != 0 {
		t.Fatalf("parent dirs of top-level entry: %v", dirs)
	}
}

func TestHashBytes(t *testing.T) {
	a := HashBytes([]byte("hello"))
	b := HashBytes([]byte("hello"))
	if a != b {
		t.Fatal("same content must hash identically")
	}
	if a == HashBytes([]byte("world")) {
		t.Fatal("different content must not collide here")
	}
	if len(a.String()) != HASH_HEX_SIZE {
		t.Fatalf("hex digest size: %d", len(a.String()))
	}
	if NewHash(a.String()) != a {
		t.Fatal("hex roundtrip")
	}
}

func TestErrorKinds(t *testing.T) {
	err := NewErrChangeConflict("parent %d is not head %d", 3, 5)
	if !IsErrChangeConflict(err) {
		t.Fatal("expected a conflict kind")
	}
	if IsErrEntryNotFound(err) {
		t.Fatal("kinds must not overlap")
	}
	k, ok := KindOf(err)
	if !ok || k != KindChangeConflict {
		t.Fatalf("kind: %v %v", k, ok)
	}
}
