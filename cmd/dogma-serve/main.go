// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/line/centraldogma-sub008/modules/trace"
	"github.com/line/centraldogma-sub008/pkg/version"
)

type App struct {
	Globals
	HTTPD HTTPD `cmd:"httpd" help:"start dogma-serve httpd server"`
}

func main() {
	var app App
	ctx := kong.Parse(&app,
		kong.Name("dogma-serve"),
		kong.Description("Dogma - A version-controlled configuration store"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version.GetVersionString(),
		},
	)
	now := time.Now()
	if app.Verbose {
		trace.EnableDebugMode()
	}
	err := ctx.Run(&app.Globals)
	if app.Verbose {
		trace.DbgPrint("time spent: %v", time.Since(now))
	}
	if err != nil {
		os.Exit(1)
	}
}
