// Package notify delivers low-stock notifications raised by the dispense engine.
//
// The engine decides when a notification fires; a Sink decides what happens
// to it. Sinks are called synchronously from inside the machine's critical
// section, so an implementation must return promptly. AsyncSink moves slow
// delivery off that path: OnLowStock only appends to an in-memory queue and a
// single Run loop hands notifications to the downstream sink in order.
package notify
