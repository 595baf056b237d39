// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package taskmaster implements the supervision engine for a process
// control daemon: it launches, monitors, and restarts child processes
// according to a declarative program catalog.
//
// The package owns the hard part of the system: the per-process state
// machine (Worker), the set of worker slots kept at a configured
// cardinality for one named program (Fleet), and the engine that owns
// every Fleet, serializes control commands, and reconciles the fleet
// set across configuration reloads (Supervisor).
//
// Configuration file parsing, the interactive shell, the line-oriented
// control socket, and the JSON HTTP API are adapters layered on top of
// this package. The three control surfaces talk to it through the
// Facade interface in control.go; the config loader only builds
// ProgramSpec values through NewProgramSpec.
package taskmaster
