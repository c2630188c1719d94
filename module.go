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

// Module is a named unit with lifecycle hooks. Names are unique per Runtime.
// Every hook is optional.
type Module struct {
	Name string
	Ctx  any

	// Init runs on Cycle.Start in registration order; the first failure
	// stops the remaining inits.
	Init func(c *Cycle) error
	// Exit runs on Cycle.Stop in reverse registration order; every hook
	// runs even when an earlier one fails.
	Exit func(c *Cycle) error
	// Reload runs on Cycle.Reload after the new configuration is swapped in.
	Reload func(c *Cycle) error
}

func (m *Module) String() string {
	if m == nil {
		return "<nil>"
	}
	return m.Name
}
