// Package touch holds the shared domain types for the gesture interaction
// engine: pointer phases, session and commit telemetry records, engine
// tunables, and the package-level diagnostic log streams.
//
// The processing layers live in numbered subpackages, ordered by how far an
// event has travelled from the input device:
//
//	l1events    raw pointer events, wire codec, validation
//	l2sessions  per-element gesture session assembly and velocity estimation
//	l3classify  axis-lock classification (claim horizontal, release vertical)
//	l4controllers
//	            carousel snap and row reveal state machines
//	l5motion    scalar animation driver (spring and timing transitions)
//
// pipeline composes the layers into a single-threaded dispatch engine;
// recorder, sweep, monitor and network are peripheral tooling around it.
package touch
