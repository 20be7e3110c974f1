package platform

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInstanceAlreadyRunning indicates another process already owns the device lock.
var ErrInstanceAlreadyRunning = errors.New("instance already running")

// ErrInstanceLockUnsupported indicates the current platform has no lock backend implementation.
var ErrInstanceLockUnsupported = errors.New("instance lock unsupported")

// HeldError is returned on contention and names the process holding the lock when known.
type HeldError struct {
	Resource string
	PID      int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s is in use by pid %d", e.Resource, e.PID)
	}
	return e.Resource + " is in use by another process"
}

func (e *HeldError) Is(target error) bool {
	return target == ErrInstanceAlreadyRunning
}

// InstanceLock represents an acquired single-instance lock.
type InstanceLock interface {
	Release() error
}

// AcquireInstanceLock takes an exclusive per-user lock named after appID and
// resource, so two servers never drive the same device program at once.
func AcquireInstanceLock(appID, resource string) (InstanceLock, error) {
	return acquireInstanceLock(normalizeInstanceLockComponent(appID, "app"), resource)
}

func lockFileName(resource string) string {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return "instance.lock"
	}
	sum := sha256.Sum256([]byte(resource))
	return "device-" + hex.EncodeToString(sum[:6]) + ".lock"
}

func normalizeInstanceLockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
