// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package httpserver

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/line/centraldogma-sub008/pkg/serve"
	"github.com/line/centraldogma-sub008/pkg/serve/command"
	"github.com/line/centraldogma-sub008/pkg/serve/mirror"
	"github.com/line/centraldogma-sub008/pkg/serve/storage"
	"github.com/line/centraldogma-sub008/pkg/version"
)

const (
	DefaultIdleTimeout = 60 * time.Second
	DefaultReadTimeout = 30 * time.Second
	// Long polls wait up to a minute; the write timeout leaves headroom for
	// serializing the response after the wait.
	DefaultWriteTimeout = 75 * time.Second
)

type AuthConfig struct {
	// SystemAdmins hold ADMIN everywhere, including dogma repositories.
	SystemAdmins       []string `toml:"system_admins,omitempty"`
	AllowAnonymousRead bool     `toml:"allow_anonymous_read,omitempty"`
	// ClusterSecret signs the JWTs that authenticate follower-to-leader
	// command forwarding.
	ClusterSecret string `toml:"cluster_secret,omitempty"`
}

type MirrorConfig struct {
	Zone         mirror.ZoneConfig   `toml:"zone,omitempty"`
	AccessRules  []mirror.AccessRule `toml:"access_rules,omitempty"`
	DefaultAllow bool                `toml:"default_allow,omitempty"`
}

// LogConfig routes the server log to a rotated file instead of stderr.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb,omitempty"`
	MaxBackups int    `toml:"max_backups,omitempty"`
	MaxAgeDays int    `toml:"max_age_days,omitempty"`
	Compress   bool   `toml:"compress,omitempty"`
}

// Apply installs the rotated log writer. A nil config or empty file keeps
// stderr.
func (lc *LogConfig) Apply() {
	if lc == nil || len(lc.File) == 0 {
		return
	}
	logrus.SetOutput(&lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
		Compress:   lc.Compress,
	})
}

type ServerConfig struct {
	Listen        string                     `toml:"listen"`
	Data          string                     `toml:"data"`
	IdleTimeout   serve.Duration             `toml:"idle_timeout,omitempty"`
	ReadTimeout   serve.Duration             `toml:"read_timeout,omitempty"`
	WriteTimeout  serve.Duration             `toml:"write_timeout,omitempty"`
	BannerVersion string                     `toml:"banner_version,omitempty"`
	Cache         *storage.CacheConfig       `toml:"cache,omitempty"`
	Replication   *command.ReplicationConfig `toml:"replication,omitempty"`
	Mirror        *MirrorConfig              `toml:"mirror,omitempty"`
	Auth          *AuthConfig                `toml:"auth,omitempty"`
	Log           *LogConfig                 `toml:"log,omitempty"`
	DefaultQuota  *command.WriteQuota        `toml:"default_quota,omitempty"`
}

func NewServerConfig(file string, expandEnv bool) (*ServerConfig, error) {
	r, err := serve.NewExpandReader(file, expandEnv)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	sc := &ServerConfig{
		Listen: "127.0.0.1:36462",
		IdleTimeout: serve.Duration{
			Duration: DefaultIdleTimeout,
		},
		ReadTimeout: serve.Duration{
			Duration: DefaultReadTimeout,
		},
		WriteTimeout: serve.Duration{
			Duration: DefaultWriteTimeout,
		},
		BannerVersion: version.GetServerVersion(),
	}
	if _, err = toml.NewDecoder(r).Decode(sc); err != nil {
		return nil, err
	}
	if sc.Auth == nil {
		sc.Auth = &AuthConfig{}
	}
	if sc.Mirror == nil {
		sc.Mirror = &MirrorConfig{}
	}
	return sc, nil
}
