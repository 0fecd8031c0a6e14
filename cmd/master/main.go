// Copyright 2026 The Tera Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cubefs/cubefs/blobstore/common/config"
	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"

	"github.com/zmyer/tera/common/fsenv"
	"github.com/zmyer/tera/common/nodecli"
	"github.com/zmyer/tera/master"
	"github.com/zmyer/tera/registry"
)

// Config is the master service config.
type Config struct {
	master.Config

	BindAddr string    `json:"bind_addr"`
	LogLevel log.Level `json:"log_level"`
}

func main() {
	config.Init("f", "", "master.json")

	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		log.Fatal(errors.Detail(err))
	}
	registerLogLevel()
	log.SetOutputLevel(cfg.LogLevel)
	if cfg.BindAddr == "" {
		log.Fatal("bind_addr is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = cfg.BindAddr
	}

	span, ctx := trace.StartSpanFromContext(context.Background(), "")

	// The coordination service is external; the in-process client only backs
	// single-node deployments and tests.
	reg := registry.NewAdapter(registry.NewMemClient())

	m, err := master.New(ctx, &cfg.Config, reg, nodecli.NewConns(), fsenv.NewPosixEnv())
	if err != nil {
		log.Fatal(errors.Detail(err))
	}
	if err := m.Init(ctx); err != nil {
		log.Fatal(errors.Detail(err))
	}
	span.Infof("master initialized at %s", cfg.Addr)

	httpServer := master.NewHTTPServer(master.NewRPCServer(m))
	httpServer.Serve(cfg.BindAddr)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	<-ch

	httpServer.Stop()
	m.Close()
}

func registerLogLevel() {
	logLevelPath, logLevelHandler := log.ChangeDefaultLevelHandler()
	profile.HandleFunc(http.MethodPost, logLevelPath, func(c *rpc.Context) {
		logLevelHandler.ServeHTTP(c.Writer, c.Request)
	})
	profile.HandleFunc(http.MethodGet, logLevelPath, func(c *rpc.Context) {
		logLevelHandler.ServeHTTP(c.Writer, c.Request)
	})
}
