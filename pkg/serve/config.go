// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package serve

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

const (
	MiByte = 1 << 20
	// maxConfigSize caps config reads; anything larger is not a config file.
	maxConfigSize = 64 * MiByte
)

// NewExpandReader opens a config file, optionally expanding ${ENV}
// references before parsing.
func NewExpandReader(file string, expandEnv bool) (io.ReadCloser, error) {
	fd, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	if !expandEnv {
		return fd, err
	}
	defer fd.Close()
	var buf bytes.Buffer
	buf.Grow(4096)
	if _, err := buf.ReadFrom(io.LimitReader(fd, maxConfigSize)); err != nil {
		return nil, err
	}
	b := strings.NewReader(os.ExpandEnv(buf.String()))
	return io.NopCloser(b), nil
}
