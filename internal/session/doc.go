// Package session implements the state machine that drives one speech check:
//
//	idle -> recording -> captured -> analyzing -> analyzed
//
// with failed reachable from recording, captured and analyzing. A Machine
// owns the canonical audio and the latest analysis result; starting a new
// recording discards both. Failures keep already captured audio so the
// analysis can be retried without recording again.
//
// Commands (Start, Stop, Analyze, Retry) are serialized. Analysis runs in the
// background and its outcome is published to Listeners as a state change.
package session
