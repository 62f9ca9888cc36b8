// Copyright 2016-2025, Pulumi Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package deploy

// Sink is the seam a host program wires its own logger into. None of the
// teacher's engine-core packages import a structured logging library
// directly; they're handed a diagnostic sink from outside
// (*plugin.Context's Diag field) and write through that interface
// instead. This engine follows the same shape: the Runner accepts a Sink
// (the Planner and Finalizer log through their Runner's) and nothing
// assumes anything about how (or whether) messages are displayed.
type Sink interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// NoopSink discards everything. It is the default when no Sink is
// supplied, mirroring deploytest.NoopSink's role in the teacher's own
// test suite as a stand-in for "nobody cares about these messages here."
type NoopSink struct{}

func (NoopSink) Debugf(string, ...any) {}
func (NoopSink) Infof(string, ...any)  {}
func (NoopSink) Warnf(string, ...any)  {}
func (NoopSink) Errorf(string, ...any) {}

// FuncSink adapts a single `func(string, ...any)`-shaped logger (e.g. a
// wrapped slog.Logger or testing.T.Logf) into a Sink without requiring
// the host to implement all four levels separately.
type FuncSink func(level, format string, args ...any)

func (f FuncSink) Debugf(format string, args ...any) { f("debug", format, args...) }
func (f FuncSink) Infof(format string, args ...any)  { f("info", format, args...) }
func (f FuncSink) Warnf(format string, args ...any)  { f("warn", format, args...) }
func (f FuncSink) Errorf(format string, args ...any) { f("error", format, args...) }

var _ Sink = NoopSink{}
var _ Sink = FuncSink(nil)

// sinkOrNoop returns s if non-nil, else NoopSink{}.
func sinkOrNoop(s Sink) Sink {
	if s == nil {
		return NoopSink{}
	}
	return s
}
