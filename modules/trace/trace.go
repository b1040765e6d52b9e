// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package trace provides verbose-mode diagnostics for the command line
// tools.
package trace

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var debugMode bool

// EnableDebugMode turns on verbose diagnostics for the whole process.
func EnableDebugMode() {
	debugMode = true
	logrus.SetLevel(logrus.DebugLevel)
}

func DebugMode() bool {
	return debugMode
}

// DbgPrint writes a diagnostic message to stderr when verbose mode is on.
func DbgPrint(format string, args ...any) {
	if !debugMode {
		return
	}
	message := fmt.Sprintf(format, args...)
	var buffer bytes.Buffer
	for _, s := range strings.Split(message, "\n") {
		_, _ = buffer.WriteString("* ")
		_, _ = buffer.WriteString(s)
		_ = buffer.WriteByte('\n')
	}
	_, _ = os.Stderr.Write(buffer.Bytes())
}
