// Copyright 2026 The Relaunch Authors
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

// Package relaunch keeps exactly one instance of a long running program
// alive across repeated deployments.
//
// A restart finds every process whose command line contains the manifest's
// match pattern, asks each of them to terminate, and then spawns a fresh
// instance detached from the calling session, with both stdout and stderr
// redirected into a log file.  The new process is handed over to the
// operating system; relaunch does not keep watching it.  Success means the
// operating system accepted the launch, not that the program is healthy.
//
// Termination is fire-and-forget by default.  A slow prior instance and the
// freshly spawned one may briefly coexist and contend for shared resources
// such as a listening port.  Manifests may set a StopTimeout to wait for the
// prior instance to exit (killing it when the wait expires) and a CheckDelay
// to verify that the new process is still alive shortly after launch.
//
// The operating system's process table is reached only through the Registry
// interface, so that the supervision logic can be exercised against a fake.
// OSRegistry is the real implementation.
//
// Relaunch does not monitor or restart the programs it launches.  It is
// meant to be invoked by deploy scripts and operators, or through the
// relaunchd HTTP daemon.
package relaunch
