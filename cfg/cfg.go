// SPDX-License-Identifier: ice License 1.0

// Package cfg loads the relay's static configuration file the same way
// the teacher's cfg package does -- a yaml file read once into viper,
// with MustGet[T] deserializing the slice of it keyed by T's own
// package path. cmd/relayd takes its port, TLS paths and sqlite
// database path from command-line flags, not from this file. The
// runtime-mutable relay policy (auth.required, auth.allowed_pubkeys,
// information.*) is a separate concern, handled by policy.go's
// atomic read-copy-update store, per spec §9.
package cfg

import (
	"log"
	"reflect"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

const (
	defaultYAMLConfigurationFilePath = "/etc/nostrwire-relay/relay.yaml"
)

var (
	yamlConfigurationFilePathInitializer = new(sync.Once)
	yamlConfigurationFilePath            string
)

func MustInit(absoluteCfgPaths ...string) {
	yamlConfigurationFilePathInitializer.Do(func() { mustInit(absoluteCfgPaths...) })
}

func mustInit(absoluteCfgPaths ...string) {
	yamlConfigurationFilePath = ""
	for _, path := range absoluteCfgPaths {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err == nil {
			yamlConfigurationFilePath = path
			break
		}
	}
	if yamlConfigurationFilePath == "" {
		if len(absoluteCfgPaths) > 0 {
			log.Printf("warn: could not find any of the provided file paths %+v, defaulting to `%v`", absoluteCfgPaths, defaultYAMLConfigurationFilePath)
		}
		yamlConfigurationFilePath = defaultYAMLConfigurationFilePath
	}
}

// ConfigFilePath returns the path MustInit settled on.
func ConfigFilePath() string {
	return yamlConfigurationFilePath
}

// Reload re-reads the settled-on config file into viper's global
// state. Callers that need to observe edits made to the file after
// startup (see policy.go's fsnotify watch) call this before reading
// keys back out of viper.
func Reload() error {
	if yamlConfigurationFilePath == "" {
		return nil
	}
	viper.SetConfigFile(yamlConfigurationFilePath)

	return errors.Wrapf(viper.ReadInConfig(), "failed to reload config from %v", yamlConfigurationFilePath)
}

func MustGet[T any]() *T {
	var t T
	key := strings.Replace(reflect.TypeOf(t).PkgPath(), "github.com/nostrwire/relay/", "", 1)
	if err := viper.UnmarshalKey(key, &t); err != nil {
		log.Panic(errors.Wrapf(err, "could not deserialised `%v` yaml key `%v` into %+v", yamlConfigurationFilePath, key, t))
	}

	return &t
}
