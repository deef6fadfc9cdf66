// Package config is the SDK's tunable table: staleness windows, per-author
// relay caps, token-bucket rates, backoff base/cap, idle-sleep timeout, and
// notification bus sizing. Unlike the teacher's relay config (a listen
// address and data directory for a long-running server process), this is a
// library config: callers construct a C directly by default, with FromEnv
// as an opt-in for embedding applications that want the teacher's env/
// .env-file loading idiom instead of wiring values in code.
package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"go-simpler.org/env"

	"codeberg.org/nostrcore/relaysdk/chk"
)

// C holds every tunable the pool, relay, gossip and negentropy packages
// read their defaults from. The zero value is invalid; New returns one
// pre-filled with the SDK's defaults.
type C struct {
	AppName string `env:"RELAYSDK_APP_NAME" default:"relaysdk"`

	// LogLevel is one of fatal|error|warn|info|debug|trace.
	LogLevel string `env:"RELAYSDK_LOG_LEVEL" default:"info"`

	// DataDir is where a badger-backed store.D opens its files, when the
	// caller doesn't pass an explicit path.
	DataDir string `env:"RELAYSDK_DATA_DIR"`

	// Relay connection FSM tunables (component D).
	BaseBackoff           time.Duration `env:"RELAYSDK_BASE_BACKOFF" default:"1s"`
	MaxBackoff            time.Duration `env:"RELAYSDK_MAX_BACKOFF" default:"2m"`
	CleanSessionThreshold time.Duration `env:"RELAYSDK_CLEAN_SESSION_THRESHOLD" default:"30s"`
	IdleTimeout           time.Duration `env:"RELAYSDK_IDLE_TIMEOUT" default:"5m"`
	PingInterval          time.Duration `env:"RELAYSDK_PING_INTERVAL" default:"30s"`
	NotesPerMinute        float64       `env:"RELAYSDK_NOTES_PER_MINUTE" default:"60"`
	MaxSubscriptions      int           `env:"RELAYSDK_MAX_REQS" default:"500"`

	// Pool tunables (component F).
	BusBufferSize int `env:"RELAYSDK_BUS_BUFFER_SIZE" default:"4096"`

	// Gossip tunables (component G).
	ReadRelaysPerUser     int           `env:"RELAYSDK_READ_RELAYS_PER_USER" default:"3"`
	WriteRelaysPerUser    int           `env:"RELAYSDK_WRITE_RELAYS_PER_USER" default:"3"`
	HintRelaysPerUser     int           `env:"RELAYSDK_HINT_RELAYS_PER_USER" default:"2"`
	MostUsedRelaysPerUser int           `env:"RELAYSDK_MOST_USED_RELAYS_PER_USER" default:"5"`
	GossipFreshness       time.Duration `env:"RELAYSDK_GOSSIP_FRESHNESS" default:"1h"`
	GossipRefreshTimeout  time.Duration `env:"RELAYSDK_GOSSIP_REFRESH_TIMEOUT" default:"5s"`
	GossipRefreshBatch    int           `env:"RELAYSDK_GOSSIP_REFRESH_BATCH" default:"25"`

	// Negentropy tunables (component H).
	NegentropyMaxFrameBytes int `env:"RELAYSDK_NEGENTROPY_MAX_FRAME_BYTES" default:"16777216"`

	// Tor toggle, carried from the reference implementations' "optional
	// feature flag toggling Tor" (spec.md §6 environment variables).
	UseTor bool `env:"RELAYSDK_USE_TOR" default:"false"`
}

// New returns a C with every field set to the SDK's built-in defaults,
// overridden by any RELAYSDK_* variables in the process environment. It
// never touches the filesystem; FromEnv adds the .env-file layer.
func New() *C {
	cfg := &C{}
	chk.E(env.Load(cfg, &env.Options{SliceSep: ","}))
	return cfg
}

// FromEnv loads C from the process environment, then fills in from an .env
// file under xdg.ConfigHome/<AppName>/.env if present: a key in that file
// applies only when the same variable is not already set in the process
// environment, so the environment wins over the file and the file wins over
// the built-in defaults. The relay-hosting fields of the teacher's config
// (listen address, DNS name, pprof) don't apply to a client SDK.
func FromEnv() (cfg *C, err error) {
	cfg = &C{}
	if err = env.Load(cfg, &env.Options{SliceSep: ","}); chk.E(err) {
		return
	}
	dir := xdg.ConfigHome
	if cfg.AppName != "" {
		dir = filepath.Join(dir, cfg.AppName)
	}
	envPath := filepath.Join(dir, ".env")
	kv, ferr := readDotEnv(envPath)
	if ferr != nil {
		return cfg, nil
	}
	for k, v := range kv {
		if _, already := os.LookupEnv(k); !already {
			os.Setenv(k, v)
		}
	}
	if err = env.Load(cfg, &env.Options{SliceSep: ","}); chk.E(err) {
		return
	}
	return cfg, nil
}

// readDotEnv parses a simple KEY=value-per-line file, skipping blanks and
// '#'-prefixed comments. It never errors on malformed lines, only on a
// missing/unreadable file.
func readDotEnv(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
