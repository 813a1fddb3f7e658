// Package store keeps the latest status of every target and fans scheduler
// events out to subscribers.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [Event]: Storage and JSON representation of a scheduler event
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers will miss updates rather than block the scheduler).
package store
