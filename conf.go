// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package receptor

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

const (
	confPoolSize    = 4096
	defaultBacklog  = 511
	defaultWorkers  = 1
	confModulesHint = 10
)

// ConfEntry is one significant line of a configuration text.
type ConfEntry struct {
	Line int
	Text string
}

// MainConf holds the top-level keys of a configuration file.
type MainConf struct {
	Prefix          string `toml:"prefix"`
	ErrorLog        string `toml:"error_log"`
	WorkerProcesses int    `toml:"worker_processes"`
	Daemon          bool   `toml:"daemon"`
	Master          bool   `toml:"master"`
	DebugPoints     bool   `toml:"debug_points"`
}

// EventConf is the [events] table.
type EventConf struct {
	Use       string `toml:"use"`
	TimeoutMS int    `toml:"timeout_ms"`
	MaxEvents int    `toml:"max_events"`
}

// StreamConf is the [stream] table.
type StreamConf struct {
	Listen  []string `toml:"listen"`
	Backlog int      `toml:"backlog"`
}

// HTTPConf is the [http] table. It carries no directives yet.
type HTTPConf struct{}

type confFile struct {
	MainConf
	Events EventConf  `toml:"events"`
	Stream StreamConf `toml:"stream"`
	HTTP   HTTPConf   `toml:"http"`
}

func defaultConfFile() confFile {
	return confFile{
		MainConf: MainConf{WorkerProcesses: defaultWorkers},
		Events:   EventConf{TimeoutMS: -1, MaxEvents: defaultMaxEvents},
		Stream:   StreamConf{Backlog: defaultBacklog},
	}
}

// ConfCtx is a parsed configuration. It owns an arena holding a snapshot of
// the module registry and the list of significant configuration lines.
type ConfCtx struct {
	rt      *Runtime
	pool    *Pool
	modules *Array // registry handles at creation time
	entries *List  // *ConfEntry

	// Main, Event, HTTP and Stream hold *MainConf, *EventConf, *HTTPConf
	// and *StreamConf once a configuration was parsed.
	Main   any
	Event  any
	HTTP   any
	Stream any

	file    string
	text    string
	meta    toml.MetaData
	parsed  bool
	deleted bool
}

// NewConfCtx creates an empty configuration context.
func (rt *Runtime) NewConfCtx() (*ConfCtx, error) {
	if !rt.Initialized() {
		return nil, rt.fail(fmt.Errorf("%w: configuration", ErrNotInitialized))
	}
	pool := NewPool(confPoolSize)
	modules, err := NewArray(pool, confModulesHint, handleSize)
	if err != nil {
		pool.Destroy()
		return nil, rt.fail(fmt.Errorf("create modules array: %w", err))
	}
	for i := 0; i < rt.order.Len(); i++ {
		copy(modules.Push(), rt.order.Get(i))
	}
	entries, err := NewList(pool, 0)
	if err != nil {
		pool.Destroy()
		return nil, rt.fail(fmt.Errorf("create configurations list: %w", err))
	}
	return &ConfCtx{rt: rt, pool: pool, modules: modules, entries: entries}, nil
}

// Pool returns the context arena.
func (cc *ConfCtx) Pool() *Pool { return cc.pool }

// File returns the path the context was loaded from, if any.
func (cc *ConfCtx) File() string { return cc.file }

// Text returns the raw text of the last parse.
func (cc *ConfCtx) Text() string { return cc.text }

// Parsed reports whether a configuration text was accepted.
func (cc *ConfCtx) Parsed() bool { return cc.parsed }

// Entries returns the list of significant lines.
func (cc *ConfCtx) Entries() *List { return cc.entries }

// Modules returns the modules registered when the context was created.
func (cc *ConfCtx) Modules() []*Module {
	return cc.rt.modulesOf(cc.modules)
}

// IsDefined reports whether the parsed text set the given key, for example
// IsDefined("events", "timeout_ms").
func (cc *ConfCtx) IsDefined(key ...string) bool {
	return cc.parsed && cc.meta.IsDefined(key...)
}

// Load reads and parses the file at path.
func (cc *ConfCtx) Load(path string) error {
	if cc == nil || path == "" {
		return ErrInvalidArgument
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cc.rt.fail(fmt.Errorf("%w: cannot open configuration file %s: %w", ErrConfig, path, err))
	}
	if err = cc.Parse(string(data)); err != nil {
		return err
	}
	cc.file = path
	return nil
}

// Parse records every line that is neither blank nor a comment, then
// decodes the text as TOML. Keys the text does not set keep their defaults.
func (cc *ConfCtx) Parse(text string) error {
	if cc == nil || cc.deleted {
		return ErrInvalidArgument
	}
	cc.entries.Clear()
	log := cc.rt.log
	sc := bufio.NewScanner(strings.NewReader(text))
	for line := 1; sc.Scan(); line++ {
		s := strings.TrimSpace(sc.Text())
		if s == "" || s[0] == '#' {
			continue
		}
		if err := cc.entries.PushBack(&ConfEntry{Line: line, Text: s}); err != nil {
			return cc.rt.fail(err)
		}
		log.Debug("config", zap.Int("line", line), zap.String("text", s))
	}
	if err := sc.Err(); err != nil {
		return cc.rt.fail(fmt.Errorf("%w: %w", ErrConfig, err))
	}

	doc := defaultConfFile()
	meta, err := toml.Decode(text, &doc)
	if err != nil {
		return cc.rt.fail(fmt.Errorf("%w: %w", ErrConfig, err))
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cc.rt.fail(fmt.Errorf("%w: unknown keys %s", ErrConfig, strings.Join(keys, ", ")))
	}
	if err = doc.validate(); err != nil {
		return cc.rt.fail(err)
	}
	cc.text, cc.meta, cc.parsed = text, meta, true
	cc.Main, cc.Event, cc.HTTP, cc.Stream = &doc.MainConf, &doc.Events, &doc.HTTP, &doc.Stream
	return nil
}

func (doc *confFile) validate() error {
	if doc.WorkerProcesses < 1 {
		return fmt.Errorf("%w: worker_processes must be positive, got %d", ErrConfig, doc.WorkerProcesses)
	}
	if doc.Events.MaxEvents < 1 {
		return fmt.Errorf("%w: events.max_events must be positive, got %d", ErrConfig, doc.Events.MaxEvents)
	}
	if doc.Events.Use != "" {
		if _, ok := lookupBackend(doc.Events.Use); !ok {
			return fmt.Errorf("%w: events.use: %w: %s", ErrConfig, ErrUnknownBackend, doc.Events.Use)
		}
	}
	if doc.Stream.Backlog < 1 {
		return fmt.Errorf("%w: stream.backlog must be positive, got %d", ErrConfig, doc.Stream.Backlog)
	}
	for _, addr := range doc.Stream.Listen {
		if _, err := parseListen(addr); err != nil {
			return err
		}
	}
	return nil
}

// Destroy releases the context arena. It is idempotent.
func (cc *ConfCtx) Destroy() {
	if cc == nil || cc.deleted {
		return
	}
	cc.entries.Destroy()
	cc.modules.Destroy()
	cc.pool.Destroy()
	cc.deleted = true
}

// Destroyed reports whether Destroy has run.
func (cc *ConfCtx) Destroyed() bool { return cc == nil || cc.deleted }

// mainConf returns the parsed top-level table, or the defaults.
func (cc *ConfCtx) mainConf() MainConf {
	if m, ok := cc.Main.(*MainConf); ok && m != nil {
		return *m
	}
	return defaultConfFile().MainConf
}

func (cc *ConfCtx) eventConf() EventConf {
	if e, ok := cc.Event.(*EventConf); ok && e != nil {
		return *e
	}
	return defaultConfFile().Events
}

func (cc *ConfCtx) streamConf() StreamConf {
	if s, ok := cc.Stream.(*StreamConf); ok && s != nil {
		return *s
	}
	return defaultConfFile().Stream
}
