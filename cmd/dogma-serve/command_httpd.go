// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/line/centraldogma-sub008/pkg/serve/httpserver"
)

type HTTPD struct {
	Config string `short:"c" name:"config" help:"Location of server config file" default:"~/config/dogma-serve-httpd.toml" type:"path"`
}

func (c *HTTPD) Run(globals *Globals) error {
	sc, err := httpserver.NewServerConfig(c.Config, globals.ExpandEnv)
	if err != nil {
		logrus.Errorf("dogma-serve httpd load server config error: %v", err)
		return err
	}
	sc.Log.Apply()
	srv, err := httpserver.NewServer(sc, nil)
	if err != nil {
		logrus.Errorf("dogma-serve httpd new httpd server error: %v", err)
		return err
	}
	closer := newCloser()
	go closer.listenSignal(context.Background(), srv)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.Errorf("dogma-serve httpd listen server error: %v", err)
		return err
	}
	<-closer.ch
	logrus.Infof("dogma-serve httpd exited")
	return nil
}
