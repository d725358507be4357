// Package model defines the shared domain types for the realtime
// collaboration client.
//
// Conventions:
//   - IDs: string for project/room/thread/user identifiers (server-assigned),
//     uuid.UUID for task and comment identifiers
//   - Timestamps: time.Time, captured locally unless the server provides one
//
// Values are passed between packages by copy; no package mutates a value it
// did not create.
package model
