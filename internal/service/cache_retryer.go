package service

import (
	"context"
	"log"
	"sync"
	"time"

	"kusheet/internal/model"
)

// CacheRetryer 用于在缓存写入失败时进行“最终一致”补偿。
// 注意：这是一个最佳努力实现；进程退出时队列中的任务会丢失，缓存不完整时读路径回退 MySQL。
type CacheRetryer interface {
	Enqueue(msg model.Message)
	Stop()
}

type cacheRetryTask struct {
	msg     model.Message
	attempt int
}

// AsyncCacheRetryer 使用内存队列 + 后台 worker 进行重试。
// - 不阻塞主流程（队列满会丢弃并打日志）
// - 重试采用指数退避
type AsyncCacheRetryer struct {
	cache TimelineCache

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	queue    chan cacheRetryTask
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type CacheRetryOptions struct {
	QueueSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

const cacheRetryTimeout = 2 * time.Second

func NewAsyncCacheRetryer(cache TimelineCache, opts CacheRetryOptions) *AsyncCacheRetryer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 8
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Second
	}

	r := &AsyncCacheRetryer{
		cache:       cache,
		maxAttempts: opts.MaxAttempts,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		queue:       make(chan cacheRetryTask, opts.QueueSize),
		stop:        make(chan struct{}),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *AsyncCacheRetryer) Enqueue(msg model.Message) {
	select {
	case r.queue <- cacheRetryTask{msg: msg}:
	default:
		log.Printf("cache retry queue full, drop task group=%s msg_id=%s", msg.GroupID, msg.ID)
	}
}

func (r *AsyncCacheRetryer) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

func (r *AsyncCacheRetryer) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case task := <-r.queue:
			r.handle(task)
		}
	}
}

func (r *AsyncCacheRetryer) handle(task cacheRetryTask) {
	backoff := r.baseBackoff
	for {
		if task.attempt >= r.maxAttempts {
			log.Printf("cache retry exceeded max attempts, give up group=%s msg_id=%s", task.msg.GroupID, task.msg.ID)
			// 缓存已缺这条消息，删掉整组缓存让读路径从 MySQL 回填
			ctx, cancel := context.WithTimeout(context.Background(), cacheRetryTimeout)
			if err := r.cache.Invalidate(ctx, task.msg.GroupID); err != nil {
				log.Printf("cache invalidate failed group=%s err=%v", task.msg.GroupID, err)
			}
			cancel()
			return
		}

		task.attempt++
		ctx, cancel := context.WithTimeout(context.Background(), cacheRetryTimeout)
		err := r.cache.Append(ctx, task.msg)
		cancel()
		if err == nil {
			return
		}

		log.Printf("cache retry failed attempt=%d group=%s msg_id=%s err=%v", task.attempt, task.msg.GroupID, task.msg.ID, err)
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
		select {
		case <-time.After(backoff):
		case <-r.stop:
			return
		}
		backoff *= 2
	}
}
