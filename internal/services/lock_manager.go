// internal/services/lock_manager.go
package services

import (
	"sort"
	"sync"
	"time"
)

// LockManager 按键名管理互斥锁
type LockManager struct {
	locks         map[string]*LockInfo
	globalLock    sync.Mutex
	lockTTL       time.Duration
	cleanupTicker *time.Ticker
	stop          chan struct{}
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex          *sync.Mutex
	LastUsed       time.Time
	ReferenceCount int32 // 持有或等待此锁的调用数，非零时不会被清理
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	lm := &LockManager{
		locks:   make(map[string]*LockInfo),
		lockTTL: 10 * time.Minute,
		stop:    make(chan struct{}),
	}

	// 启动清理器
	lm.startCleanup()
	return lm
}

// acquire 取得锁信息并增加引用
func (lm *LockManager) acquire(key string) *LockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info, exists := lm.locks[key]
	if !exists {
		info = &LockInfo{Mutex: &sync.Mutex{}}
		lm.locks[key] = info
	}
	info.ReferenceCount++
	info.LastUsed = time.Now()
	return info
}

func (lm *LockManager) release(info *LockInfo) {
	lm.globalLock.Lock()
	info.ReferenceCount--
	info.LastUsed = time.Now()
	lm.globalLock.Unlock()
}

// Lock 按字典序锁定多个键，返回解锁函数
func (lm *LockManager) Lock(keys ...string) func() {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k != "" && !seen[k] {
			seen[k] = true
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	held := make([]*LockInfo, 0, len(sorted))
	for _, k := range sorted {
		info := lm.acquire(k)
		info.Mutex.Lock()
		held = append(held, info)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Mutex.Unlock()
			lm.release(held[i])
		}
	}
}

// ExecuteWithLock 在键锁保护下执行操作
func (lm *LockManager) ExecuteWithLock(key string, fn func() error) error {
	unlock := lm.Lock(key)
	defer unlock()
	return fn()
}

// Size 当前管理的锁数量
func (lm *LockManager) Size() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.locks)
}

// Close 停止清理器
func (lm *LockManager) Close() {
	select {
	case <-lm.stop:
	default:
		close(lm.stop)
	}
}

// 定期清理未使用的锁
func (lm *LockManager) startCleanup() {
	lm.cleanupTicker = time.NewTicker(5 * time.Minute)
	go func() {
		defer lm.cleanupTicker.Stop()
		for {
			select {
			case <-lm.cleanupTicker.C:
				lm.cleanupUnusedLocks(time.Now())
			case <-lm.stop:
				return
			}
		}
	}()
}

func (lm *LockManager) cleanupUnusedLocks(now time.Time) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	for key, info := range lm.locks {
		if info.ReferenceCount == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.locks, key)
		}
	}
}
