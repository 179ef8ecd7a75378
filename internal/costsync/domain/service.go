package domain

import "context"

type Service interface {
	// Sync pulls the user's window from the billing provider, persists it,
	// scores it and dispatches notifications. Failures are *SyncError.
	Sync(ctx context.Context, req SyncRequest) (SyncResult, error)
	// SyncDue syncs connected users that are due, under the auto_sync run lock.
	SyncDue(ctx context.Context, req BatchRequest) (BatchResult, error)
}
