// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters.
//
// In Clean Architecture / Hexagonal Architecture, ports are the boundaries
// between the application core and the outside world. They define what the
// application needs from external systems without specifying how those needs
// are fulfilled.
//
// # Port Interfaces
//
//   - [DigestStore]: Idempotent bulk insert of digests into the relational store
//   - [FeedDialer] / [FeedConn]: Opens and reads a push subscription
//   - [Extractor]: Turns one raw feed message into digests
//   - [PendingRepository]: Spills undelivered digests across restarts
//   - [RecentSet]: Remembers digests already persisted by this process
//   - [Logger]: Structured logging abstraction
//
// # Usage
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement these interfaces
// with concrete implementations (gorm, gorilla/websocket, zerolog, etc.).
package ports
