package execution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofrs/flock"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
)

// WalletLock serializes transaction submission for one wallet across local processes.
type WalletLock struct {
	lock *flock.Flock
}

// LockWallet blocks until the wallet's lock file in dir is held or wait elapses.
func LockWallet(ctx context.Context, dir string, wallet common.Address, wait time.Duration) (*WalletLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "create lock directory", err)
	}
	path := filepath.Join(dir, strings.ToLower(wallet.Hex())+".lock")
	fl := flock.New(path)

	lockCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	locked, err := fl.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil || !locked {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("wallet %s is in use by another process", wallet.Hex()), err)
	}
	return &WalletLock{lock: fl}, nil
}

func (l *WalletLock) Unlock() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
