// Package audit dispatches security events to pluggable sinks.
//
// A [Dispatcher] relays [Event] values to a [Sink] on one background
// goroutine. When the buffer is full it either blocks the caller or drops the
// event and counts it, depending on [Config].DropIfFull.
//
// Sinks supplied here: [NoOpSink], [ChannelSink], [JSONWriterSink] and
// [ZapSink]. Which events are emitted is decided by the engine, not by this
// package.
package audit
