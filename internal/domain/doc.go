// Package domain contains the core domain entities and value objects for digestship.
//
// This package represents the innermost layer of the Clean Architecture. It has
// no dependencies on infrastructure concerns (websockets, SQL drivers, logging)
// and contains only pure business logic.
//
// # Entities
//
//   - [Digest]: A transaction identifier taken from a feed message
//   - [Batch]: A deduplicated snapshot of pending digests written in one statement
//   - [FeedTarget]: Where and how to open a feed subscription
//   - [ConnState]: The connection state of a feed client
//   - [StoreError]: A classified store write failure
//
// # Design Principles
//
// Domain entities are:
//   - Immutable after construction (where practical)
//   - Free of infrastructure dependencies
//   - Focused on business rules and invariants
//   - Testable without mocks or external systems
package domain
