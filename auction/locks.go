package auction

import (
	"context"
	"sync"

	redisadapter "techgenie/adapters/redis"
)

// LockFactory 為指定的key產生互斥鎖
// 單一實例部署可使用process內的鎖，多實例部署應注入以Redis實作的分散式鎖
type LockFactory func(key string) redisadapter.IAutoRenewMutex

// NewLocalLockFactory 建立process內的鎖工廠
// 所有以相同key取得的鎖共用同一個mutex
func NewLocalLockFactory() LockFactory {
	var mu sync.Mutex
	locks := make(map[string]*sync.Mutex)
	return func(key string) redisadapter.IAutoRenewMutex {
		mu.Lock()
		defer mu.Unlock()
		lock, ok := locks[key]
		if !ok {
			lock = &sync.Mutex{}
			locks[key] = lock
		}
		return &localLock{mu: lock}
	}
}

type localLock struct {
	mu   *sync.Mutex
	held bool
}

func (l *localLock) Lock(ctx context.Context) (context.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.held = true
	return ctx, nil
}

func (l *localLock) Unlock() (bool, error) {
	if !l.held {
		return false, nil
	}
	l.held = false
	l.mu.Unlock()
	return true, nil
}

func (l *localLock) Valid() bool {
	return l.held
}

var _ redisadapter.IAutoRenewMutex = (*localLock)(nil)
