package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"
)

const leaseOwnerFile = "owner.json"

// Lease is an exclusive claim on a named credential within the state directory.
//
// The claim is a directory created with [os.Mkdir], which fails atomically when another process already holds it.
type Lease struct {
	dir  string
	name string
}

type leaseOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
	Batch     string `json:"batch,omitempty"`
}

// AcquireLease claims name under locksDir for the given batch.
//
// A claim left behind by a crashed run is reclaimed when it is stale (see [leaseOwner.stale]).
// Returns [ErrCredentialLocked] when a live batch still holds the claim.
func AcquireLease(locksDir, name, batchID string) (*Lease, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: lease name is required", ErrInvalidArgument)
	}
	if err := os.MkdirAll(locksDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create locks directory: %w", err)
	}

	dir := filepath.Join(locksDir, name+".lock")
	err := os.Mkdir(dir, 0755)
	if os.IsExist(err) {
		owner, ok := readLeaseOwner(dir)
		if !ok {
			return nil, fmt.Errorf("%w: %s (no owner recorded; remove %s if no batch is running)", ErrCredentialLocked, name, dir)
		}
		if !owner.stale(batchID) {
			return nil, fmt.Errorf("%w: %s (pid=%d batch=%s since=%s host=%s)",
				ErrCredentialLocked, name, owner.PID, owner.Batch, owner.CreatedAt, owner.Hostname)
		}
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return nil, fmt.Errorf("failed to reclaim stale lease for %s: %w", name, rmErr)
		}
		err = os.Mkdir(dir, 0755)
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s (reclaimed concurrently)", ErrCredentialLocked, name)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease for %s: %w", name, err)
	}

	owner := leaseOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
		Batch:     batchID,
	}
	data, err := json.MarshalIndent(owner, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, leaseOwnerFile), data, 0644)
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to write lease owner for %s: %w", name, err)
	}

	return &Lease{dir: dir, name: name}, nil
}

// BreakLease removes the claim on name regardless of its owner.
// Removing a claim that does not exist is not an error.
func BreakLease(locksDir, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: lease name is required", ErrInvalidArgument)
	}
	if err := os.RemoveAll(filepath.Join(locksDir, name+".lock")); err != nil {
		return fmt.Errorf("failed to remove lease for %s: %w", name, err)
	}
	return nil
}

func readLeaseOwner(dir string) (leaseOwner, bool) {
	var owner leaseOwner
	data, err := os.ReadFile(filepath.Join(dir, leaseOwnerFile))
	if err != nil || json.Unmarshal(data, &owner) != nil || owner.PID <= 0 {
		return leaseOwner{}, false
	}
	return owner, true
}

// stale reports whether a claim can be taken over by batchID.
//
// On this host the claim is stale when its process is gone, or when this very
// process took it for the same batch. Across hosts liveness is unknowable, so
// only a claim naming the same batch is taken over.
func (o leaseOwner) stale(batchID string) bool {
	sameBatch := batchID != "" && o.Batch == batchID
	if o.Hostname != hostnameOrUnknown() {
		return sameBatch
	}
	if o.PID == os.Getpid() {
		return sameBatch
	}
	return !processAlive(o.PID)
}

// Name returns the claimed credential name.
func (l *Lease) Name() string {
	if l == nil {
		return ""
	}
	return l.name
}

// Release gives the claim back. Releasing a nil or already released lease is a no-op.
func (l *Lease) Release() error {
	if l == nil || l.dir == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.dir, leaseOwnerFile))
	if err := os.Remove(l.dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lease %s: %w", l.name, err)
	}
	l.dir = ""
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "unknown"
	}
	return strings.TrimSpace(host)
}

// processAlive sends signal 0 to pid. EPERM means the process exists under another user.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	defer p.Release()
	if runtime.GOOS == "windows" {
		return true
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
