// SPDX-License-Identifier: ice License 1.0

package cfg

import (
	"log"
	"path/filepath"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// policyYAMLKey is a literal top-level yaml key rather than a
// MustGet[T]-style package-path key: Policy is a process-wide
// singleton, not a per-package config struct, so it has no single
// owning package path to derive a key from.
const policyYAMLKey = "policy"

// Information is the relay metadata advertised on the NIP-11 HTTP
// info endpoint.
type Information struct {
	Name        string
	Description string
	Pubkey      string
	Contact     string
}

// Policy is the relay's runtime-mutable configuration: everything a
// Relay Session consults on every EVENT/REQ, per spec §6. It is
// always read as an immutable snapshot -- see PolicyStore.
type Policy struct {
	AuthRequired   bool
	AllowedPubkeys map[string]struct{}
	Information    Information
}

// Allowed reports whether pubkey may publish or subscribe under this
// policy: true when the allow-list is empty, otherwise only if
// pubkey is a member.
func (p *Policy) Allowed(pubkey string) bool {
	if len(p.AllowedPubkeys) == 0 {
		return true
	}
	_, ok := p.AllowedPubkeys[pubkey]

	return ok
}

type policyYAML struct {
	Auth struct {
		Required       bool     `mapstructure:"required"`
		AllowedPubkeys []string `mapstructure:"allowedPubkeys"`
	} `mapstructure:"auth"`
	Information struct {
		Name        string `mapstructure:"name"`
		Description string `mapstructure:"description"`
		Pubkey      string `mapstructure:"pubkey"`
		Contact     string `mapstructure:"contact"`
	} `mapstructure:"information"`
}

func loadPolicyYAML() *policyYAML {
	var raw policyYAML
	if err := viper.UnmarshalKey(policyYAMLKey, &raw); err != nil {
		log.Panic(errors.Wrapf(err, "could not deserialize yaml key %q into %+v", policyYAMLKey, raw))
	}

	return &raw
}

func buildPolicy(raw *policyYAML) *Policy {
	allowed := make(map[string]struct{}, len(raw.Auth.AllowedPubkeys))
	for _, pk := range raw.Auth.AllowedPubkeys {
		allowed[pk] = struct{}{}
	}

	return &Policy{
		AuthRequired:   raw.Auth.Required,
		AllowedPubkeys: allowed,
		Information: Information{
			Name:        raw.Information.Name,
			Description: raw.Information.Description,
			Pubkey:      raw.Information.Pubkey,
			Contact:     raw.Information.Contact,
		},
	}
}

// PolicyStore is the read-copy-update store spec §9 recommends in
// place of the source's global term store: writers publish a new
// Policy value, readers load a consistent snapshot without locking.
type PolicyStore struct {
	current atomic.Pointer[Policy]
}

// NewPolicyStore reads the current policy out of viper and returns a
// store holding it.
func NewPolicyStore() *PolicyStore {
	ps := &PolicyStore{}
	ps.current.Store(buildPolicy(loadPolicyYAML()))

	return ps
}

// Load returns the current policy snapshot. Safe for concurrent use;
// callers must not mutate the returned value.
func (ps *PolicyStore) Load() *Policy {
	return ps.current.Load()
}

// Watch starts a background watch on the config file's directory,
// the same fsnotify pattern the teacher's storage/fixture package
// uses to detect a finished download: on a write to the settled-on
// config path, the file is reloaded and a fresh Policy snapshot is
// published. The returned stop func ends the watch.
func (ps *PolicyStore) Watch() (stop func(), err error) {
	path := ConfigFilePath()
	if path == "" {
		return func() {}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err = watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()

		return nil, errors.Wrapf(err, "failed to watch config directory for %v", path)
	}

	done := make(chan struct{})
	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if rerr := Reload(); rerr != nil {
					log.Printf("WARN: failed to reload policy config: %v", rerr)

					continue
				}
				ps.current.Store(buildPolicy(loadPolicyYAML()))
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("WARN: policy config watcher error: %v", werr)
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}
