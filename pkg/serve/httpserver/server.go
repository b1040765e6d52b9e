// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve"
	"github.com/line/centraldogma-sub008/pkg/serve/command"
	"github.com/line/centraldogma-sub008/pkg/serve/metadata"
	"github.com/line/centraldogma-sub008/pkg/serve/mirror"
	"github.com/line/centraldogma-sub008/pkg/serve/repo"
	"github.com/line/centraldogma-sub008/pkg/serve/storage"
	"github.com/line/centraldogma-sub008/pkg/version"
)

// Request carries the authenticated principal alongside the HTTP request.
type Request struct {
	*http.Request
	Principal *metadata.Principal
	Vars      map[string]string
}

type HandlerFunc func(http.ResponseWriter, *Request)

type Server struct {
	*ServerConfig
	srv        *http.Server
	r          *mux.Router
	cache      *ristretto.Cache[string, []byte]
	mgr        *repo.Manager
	gate       *command.Gate
	quotas     *command.QuotaRegistry
	exec       command.Executor
	core       *serve.Core
	meta       *metadata.Service
	sched      *mirror.Scheduler
	serverName string
}

// NewServer assembles one node: storage, gates, the command executor,
// metadata and the mirror scheduler. A nil runner disables mirroring.
func NewServer(sc *ServerConfig, runner mirror.Runner) (*Server, error) {
	if len(sc.Data) == 0 {
		return nil, errors.New("data directory not configured")
	}
	s := &Server{
		ServerConfig: sc,
		srv: &http.Server{
			Addr:         sc.Listen,
			ReadTimeout:  sc.ReadTimeout.Duration,
			IdleTimeout:  sc.IdleTimeout.Duration,
			WriteTimeout: sc.WriteTimeout.Duration,
		},
		serverName: sc.BannerVersion,
	}
	var err error
	if s.cache, err = storage.NewObjectCache(sc.Cache); err != nil {
		return nil, err
	}
	if s.mgr, err = repo.NewManager(sc.Data, s.cache); err != nil {
		return nil, err
	}
	s.quotas = command.NewQuotaRegistry(sc.DefaultQuota)
	s.gate = command.NewGate(s.quotas)
	s.core = serve.NewCore(s.mgr, s.gate)
	if sc.Replication != nil {
		if s.exec, err = command.NewReplicated(sc.Replication, s.gate, s.core, s.forwardCommand); err != nil {
			s.mgr.Close()
			return nil, err
		}
	} else {
		s.exec = command.NewStandalone(s.gate, s.core)
	}
	s.meta = metadata.NewService(s.mgr, s.exec, s.quotas)
	if runner != nil {
		ctl, err := mirror.NewAccessController(sc.Mirror.AccessRules, sc.Mirror.DefaultAllow)
		if err != nil {
			return nil, err
		}
		s.sched = mirror.NewScheduler(mirror.NewStore(s.mgr), runner, ctl, sc.Mirror.Zone, s.exec.IsLeader)
	}
	s.initialize()
	return s, nil
}

func (s *Server) initialize() {
	r := mux.NewRouter().UseEncodedPath()
	s.APIRouter(r)
	r.HandleFunc("/cluster/commands", s.ForwardedCommand).Methods("POST")
	r.HandleFunc("/monitor/l7check", s.HealthCheck).Methods("GET", "HEAD")
	s.r = r
	s.srv.Handler = s
}

func (s *Server) APIRouter(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/projects", s.OnFunc(s.ListProjects)).Methods("GET")
	api.HandleFunc("/projects", s.OnFunc(s.CreateProject)).Methods("POST")
	api.HandleFunc("/projects/{project}", s.OnFunc(s.RemoveProject)).Methods("DELETE")
	api.HandleFunc("/projects/{project}", s.OnFunc(s.PatchProject)).Methods("PATCH")
	api.HandleFunc("/projects/{project}/removed", s.OnFunc(s.PurgeProject)).Methods("DELETE")

	api.HandleFunc("/projects/{project}/repos", s.OnFunc(s.ListRepos)).Methods("GET")
	api.HandleFunc("/projects/{project}/repos", s.OnFunc(s.CreateRepo)).Methods("POST")
	api.HandleFunc("/projects/{project}/repos/{repo}", s.OnFunc(s.RemoveRepo)).Methods("DELETE")
	api.HandleFunc("/projects/{project}/repos/{repo}", s.OnFunc(s.PatchRepo)).Methods("PATCH")
	api.HandleFunc("/projects/{project}/repos/{repo}/removed", s.OnFunc(s.PurgeRepo)).Methods("DELETE")

	api.HandleFunc("/projects/{project}/repos/{repo}/revision/{revision}", s.OnFunc(s.NormalizeRevision)).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/list{path:.*}", s.OnFunc(s.ListFiles)).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/contents{path:.*}", s.OnFunc(s.GetContents)).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/contents", s.OnFunc(s.Push)).Methods("POST")
	api.HandleFunc("/projects/{project}/repos/{repo}/commits/{revision}", s.OnFunc(s.History)).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/compare", s.OnFunc(s.Compare)).Methods("GET")
	api.HandleFunc("/projects/{project}/repos/{repo}/merge", s.OnFunc(s.Merge)).Methods("GET")

	s.MetadataRouter(api)
	s.MirrorRouter(api)
}

// OnFunc authenticates the caller and hands the request to fn.
func (s *Server) OnFunc(fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authenticate(r)
		if err != nil {
			if plumbing.IsErrAuthorization(err) {
				renderFailureFormat(w, r, http.StatusUnauthorized, "%v", err)
				return
			}
			renderError(w, r, err)
			return
		}
		fn(w, &Request{Request: r, Principal: p, Vars: mux.Vars(r)})
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hw := NewResponseWriter(w, r)
	now := time.Now()
	s.r.ServeHTTP(hw, r)
	logResponse(hw, r, time.Since(now))
}

func logResponse(hw *ResponseWriter, r *http.Request, spent time.Duration) {
	message := r.Header.Get(ErrorMessageKey)
	switch statusCode := hw.StatusCode(); {
	case statusCode >= http.StatusOK && statusCode < http.StatusBadRequest:
		logrus.Infof("[%s] %s %s status: %d written: %d spent: %v", hw.RemoteAddr(), r.Method, r.RequestURI, statusCode, hw.Written(), spent)
	default:
		logrus.Errorf("[%s] %s %s status: %d written: %d spent: %v message: %s", hw.RemoteAddr(), r.Method, r.RequestURI, statusCode, hw.Written(), spent, message)
	}
}

func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if s.gate.IsShuttingDown() {
		renderFailureFormat(w, r, http.StatusServiceUnavailable, "shutting down")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) ListenAndServe() error {
	go s.bootstrap()
	if s.sched != nil {
		s.sched.Start()
	}
	if u, err := version.Uname(); err == nil {
		logrus.Infof("[server] host %s %s %s %s (%s)", u.Node, u.Name, u.Release, u.Machine, u.Processor)
	}
	logrus.Infof("[server] %s listening on %s", s.serverName, s.Listen)
	return s.srv.ListenAndServe()
}

// bootstrap creates the internal project and runs the metadata migration
// once this node can accept writes. In a cluster only the leader proceeds;
// followers retry until a leader exists, then bail out when forwarding
// reports the work is done.
func (s *Server) bootstrap() {
	ctx := context.Background()
	for {
		if s.exec.IsLeader() {
			break
		}
		time.Sleep(time.Second)
		if s.gate.IsShuttingDown() {
			return
		}
	}
	_, err := s.exec.Execute(ctx, &command.Command{
		Type:            command.CreateProject,
		Author:          "system",
		TimestampMillis: time.Now().UnixMilli(),
		Project:         metadata.InternalProject,
	})
	if err != nil && !plumbing.IsErrProjectExists(err) {
		logrus.Errorf("[server] creating the internal project: %v", err)
		return
	}
	if err := s.meta.Migrate(ctx, "system"); err != nil {
		logrus.Errorf("[server] metadata migration: %v", err)
	}
}

// Shutdown drains: the gate goes sticky first so new commands fail fast,
// then the listener closes, then the executor.
func (s *Server) Shutdown(ctx context.Context) error {
	s.gate.ShutDown()
	if s.sched != nil {
		s.sched.Stop()
	}
	err := s.srv.Shutdown(ctx)
	if cerr := s.exec.Close(); err == nil {
		err = cerr
	}
	s.mgr.Close()
	return err
}
