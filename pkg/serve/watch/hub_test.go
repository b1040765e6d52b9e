// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package watch

import (
	"context"
	"testing"
	"time"

	"github.com/line/centraldogma-sub008/modules/pattern"
	"github.com/line/centraldogma-sub008/modules/plumbing"
)

func TestHubNotify(t *testing.T) {
	h := NewHub()
	defer h.Close()
	w := h.Register(3, pattern.MustCompile("/a/**"))
	go h.Notify(4, []string{"/a/x.json"})
	rev, ok, err := h.Await(context.Background(), w, time.Second)
	if err != nil || !ok || rev != 4 {
		t.Fatalf("await: rev=%d ok=%v err=%v", rev, ok, err)
	}
}

func TestHubIgnoresStaleAndUnmatched(t *testing.T) {
	h := NewHub()
	defer h.Close()
	w := h.Register(5, pattern.MustCompile("/a/**"))
	// At or before lastKnown: no wake.
	h.Notify(5, []string{"/a/x.json"})
	// After lastKnown but wrong path: no wake.
	h.Notify(6, []string{"/b/y.json"})
	_, ok, err := h.Await(context.Background(), w, 50*time.Millisecond)
	if err != nil || ok {
		t.Fatalf("expected timeout, got ok=%v err=%v", ok, err)
	}
}

func TestHubClose(t *testing.T) {
	h := NewHub()
	w := h.Register(1, pattern.MustCompile("/**"))
	go h.Close()
	_, _, err := h.Await(context.Background(), w, time.Second)
	if !plumbing.IsErrShuttingDown(err) {
		t.Fatalf("close: %v", err)
	}
	if h.Register(1, pattern.MustCompile("/**")) != nil {
		t.Fatal("registration after close must fail")
	}
}

func TestClipWait(t *testing.T) {
	if ClipWait(0) != DefaultWaitCap || ClipWait(-time.Second) != DefaultWaitCap {
		t.Fatal("non-positive budgets use the cap")
	}
	if ClipWait(2*time.Minute) != DefaultWaitCap {
		t.Fatal("budgets above the cap are clipped")
	}
	if ClipWait(10*time.Second) != 10*time.Second {
		t.Fatal("budgets within the cap pass through")
	}
}
