package lock

import (
	"context"
	"sync"
)

// LocalLocker 进程内按键互斥锁
// 每个键一个容量为1的通道，引用计数归零后删除，避免键无限增长
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]*localEntry)}
}

// Lock 获取键对应的锁，上下文结束时返回 ErrLockTimeout
func (l *LocalLocker) Lock(ctx context.Context, key string) (func() error, error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() error {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
		return nil
	}, nil
}

// release 减少引用计数
func (l *LocalLocker) release(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// size 当前持有的键数量
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
