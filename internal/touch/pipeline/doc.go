// Package pipeline composes the touch processing layers into a running
// engine: l1 event validation, l2 session assembly, l3 axis
// classification, l4 interaction controllers and l5 motion stepping,
// plus the persistence and publish sinks.
//
// The pipeline does not own interaction logic; it delegates to the
// layer packages and adapters. It does own the threading model: all
// layer code runs on one dispatch goroutine, so the layers themselves
// stay lock-free.
package pipeline
