// Package capture acquires an audio input stream from a device, buffers the
// encoded chunks it produces in arrival order, and hands a single RawCapture
// to the caller when recording stops. A Session holds at most one device
// stream and always releases it on stop or on any acquisition error.
package capture
