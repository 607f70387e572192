package shared

import "fmt"

// SnapshotSeedLockKey builds the redis key guarding baseline seeding.
func SnapshotSeedLockKey(refType string, refID int64) string {
	return fmt.Sprintf("inventory:snapshot:%s:%d:lock", refType, refID)
}
