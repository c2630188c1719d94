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
	"go.uber.org/zap"
)

// Option .
type Option struct {
	f func(*options)
}

type options struct {
	logger        *zap.Logger
	builtin       bool
	modules       []*Module
	backend       string
	streamHandler StreamHandler
}

// WithLogger sets the logger of the Runtime and of every cycle it creates.
func WithLogger(l *zap.Logger) Option {
	return Option{func(op *options) {
		op.logger = l
	}}
}

// WithoutBuiltinModules leaves the registry empty instead of registering
// core, event, http and stream.
func WithoutBuiltinModules() Option {
	return Option{func(op *options) {
		op.builtin = false
	}}
}

// WithModules registers extra modules after the builtin ones.
func WithModules(modules ...*Module) Option {
	return Option{func(op *options) {
		op.modules = append(op.modules, modules...)
	}}
}

// WithBackend selects the event backend used when the configuration file
// does not name one.
func WithBackend(name string) Option {
	return Option{func(op *options) {
		op.backend = name
	}}
}

// WithStreamHandler sets the handler that receives the bytes read from
// stream connections. The default echoes them back.
func WithStreamHandler(h StreamHandler) Option {
	return Option{func(op *options) {
		op.streamHandler = h
	}}
}
