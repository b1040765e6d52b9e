// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/line/centraldogma-sub008/modules/plumbing"
	"github.com/line/centraldogma-sub008/pkg/serve/command"
)

// forwardClient talks follower-to-leader. The generous timeout covers a
// replication round under load.
var forwardClient = &http.Client{Timeout: 2 * time.Minute}

// forwardCommand submits a command to the leader's HTTP endpoint on behalf
// of this follower.
func (s *Server) forwardCommand(ctx context.Context, leaderAddr string, cmd *command.Command) (*command.Result, error) {
	api := s.Replication.APIOf(leaderAddr)
	if len(api) == 0 {
		return nil, plumbing.NewErrReadOnly("no API address known for leader %s", leaderAddr)
	}
	token, err := GenerateClusterJWT(s.Auth.ClusterSecret, cmd.Author, time.Now().Add(time.Minute))
	if err != nil {
		return nil, err
	}
	raw, err := cmd.Marshal()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", "http://"+api+"/cluster/commands", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", JSON_MIME)
	req.Header.Set("Authorization", BearerPrefix+token)
	resp, err := forwardClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		var res command.Result
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return nil, err
		}
		return &res, nil
	}
	var body ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, plumbing.NewErrReadOnly("leader returned status %d", resp.StatusCode)
	}
	return nil, plumbing.NewError(plumbing.Kind(body.Exception), "%s", body.Message)
}

// ForwardedCommand accepts a command forwarded by a follower and runs it
// through the local executor.
func (s *Server) ForwardedCommand(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, BearerPrefix) {
		renderFailureFormat(w, r, http.StatusUnauthorized, "missing cluster token")
		return
	}
	if _, err := s.parseClusterJWT(strings.TrimPrefix(auth, BearerPrefix)); err != nil {
		renderFailureFormat(w, r, http.StatusUnauthorized, "%v", err)
		return
	}
	cmd := &command.Command{}
	if err := json.NewDecoder(r.Body).Decode(cmd); err != nil {
		renderFailureFormat(w, r, http.StatusBadRequest, "malformed command: %v", err)
		return
	}
	res, err := s.exec.Execute(r.Context(), cmd)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if res == nil {
		res = &command.Result{}
	}
	JsonEncode(w, http.StatusOK, res)
}
