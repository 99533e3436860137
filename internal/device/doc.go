// Package device holds the Device and User records the session core reads
// and mutates.
//
// Provisioning happens elsewhere. This package only looks devices up by
// credential, drives the online/offline and feature flags, and reads the
// owner's notification settings.
//
// # Key Types
//
//   - Device: one edge device, its admission gate and feature toggles
//   - User: the owner who receives a device's notifications
//   - Settings: per-user web/email notification switches
//   - Registry: a snapshot cache over Repository with a staleness window
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//	registry := device.NewRegistry(repo, 2*time.Second)
//	registry.SetLogger(log)
//
//	dev, err := registry.Authenticate(ctx, apiKey)
//	if err != nil {
//	    return err // ErrDeviceNotFound
//	}
//	dev, err = registry.MarkOnline(ctx, dev.ID)
//
// # Thread Safety
//
// Registry and the SQLite repositories are safe for concurrent use.
// Devices returned by Registry are copies; callers may modify them.
package device
