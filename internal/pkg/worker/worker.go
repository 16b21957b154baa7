package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"entitlement_ledger/pkg/kv"
	"entitlement_ledger/pkg/logger"
	"entitlement_ledger/pkg/metrics"

	"go.uber.org/zap"
)

// deadLetterKey 投递失败的告警保留在 KV 列表中，供人工排查
const (
	deadLetterKey    = "alerts:dead"
	deadLetterMaxLen = 1000
)

// AlertTask 运营告警任务
type AlertTask struct {
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	Retry     int               `json:"retry"` // 重试次数
	LastError string            `json:"lastError,omitempty"`
}

// Sender 告警投递渠道
type Sender interface {
	Send(ctx context.Context, task AlertTask) error
}

// AlertPool 异步告警投递池：失败重试，超过次数进入死信列表
type AlertPool struct {
	TaskQueue  chan AlertTask
	RetryQueue chan AlertTask // 重试队列
	WorkerNum  int
	MaxRetry   int           // 最大重试次数
	RetryDelay time.Duration // 第 n 次重试延迟 n*RetryDelay

	sender Sender
	store  kv.Store
	quit   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewAlertPool sender 为 nil 时只记录日志不投递
func NewAlertPool(sender Sender, store kv.Store, workerNum int, bufferSize int) *AlertPool {
	return &AlertPool{
		TaskQueue:  make(chan AlertTask, bufferSize),
		RetryQueue: make(chan AlertTask, bufferSize/2+1),
		WorkerNum:  workerNum,
		MaxRetry:   3, // 最多重试3次
		RetryDelay: time.Second,
		sender:     sender,
		store:      store,
		quit:       make(chan struct{}),
	}
}

func (p *AlertPool) Start() {
	if p.sender == nil {
		logger.Log.Info("Alert pool running in log-only mode")
		return
	}
	for i := 0; i < p.WorkerNum; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	// 启动重试处理协程
	p.wg.Add(1)
	go p.retryWorker()
	logger.Log.Info("Alert pool started", zap.Int("workers", p.WorkerNum))
}

// Stop 停止所有协程，队列中未处理的任务写入死信
func (p *AlertPool) Stop() {
	p.once.Do(func() {
		close(p.quit)
		p.wg.Wait()
		p.drain()
	})
}

func (p *AlertPool) drain() {
	for {
		select {
		case task := <-p.TaskQueue:
			p.logFailedTask(task, "pool stopped")
		case task := <-p.RetryQueue:
			p.logFailedTask(task, "pool stopped")
		default:
			return
		}
	}
}

// Alert 记录日志并异步投递
func (p *AlertPool) Alert(title, body string, fields map[string]string) {
	zapFields := []zap.Field{zap.String("title", title), zap.String("body", body)}
	for k, v := range fields {
		zapFields = append(zapFields, zap.String(k, v))
	}
	logger.Log.Warn("operator alert", zapFields...)

	if p.sender == nil {
		metrics.GetGlobalCollector().RecordAlert("logged")
		return
	}
	p.AddTask(AlertTask{Title: title, Body: body, Fields: fields, CreatedAt: time.Now()})
}

func (p *AlertPool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case task := <-p.TaskQueue:
			p.process(id, task)
		}
	}
}

func (p *AlertPool) process(id int, task AlertTask) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := p.sender.Send(ctx, task)
	if err == nil {
		metrics.GetGlobalCollector().RecordAlert("sent")
		return
	}

	logger.Log.Warn("Failed to deliver alert",
		zap.Int("worker", id),
		zap.String("title", task.Title),
		zap.Int("retry", task.Retry),
		zap.Error(err))
	task.LastError = err.Error()

	// 如果未达到最大重试次数，加入重试队列
	if task.Retry < p.MaxRetry {
		task.Retry++
		select {
		case p.RetryQueue <- task:
		default:
			p.logFailedTask(task, "retry queue full")
		}
		return
	}
	p.logFailedTask(task, "exceeded max retries")
}

func (p *AlertPool) retryWorker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case task := <-p.RetryQueue:
			// 延迟重试，避免立即重试
			select {
			case <-time.After(time.Duration(task.Retry) * p.RetryDelay):
			case <-p.quit:
				p.logFailedTask(task, "pool stopped")
				return
			}

			// 重新加入主队列
			select {
			case p.TaskQueue <- task:
			default:
				p.logFailedTask(task, "main queue full")
			}
		}
	}
}

func (p *AlertPool) logFailedTask(task AlertTask, reason string) {
	metrics.GetGlobalCollector().RecordAlert("dead_letter")
	logger.Log.Error("[DeadLetter] Alert failed permanently",
		zap.String("title", task.Title),
		zap.String("reason", reason),
		zap.String("last_error", task.LastError))

	if p.store == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.store.ListPush(ctx, deadLetterKey, deadLetterMaxLen, string(data)); err != nil {
		logger.Log.Error("Failed to persist dead letter", zap.Error(err))
	}
}

func (p *AlertPool) AddTask(task AlertTask) {
	select {
	case p.TaskQueue <- task:
		// 任务入队成功
	default:
		p.logFailedTask(task, "queue full")
	}
}

// DeadLetters 读取最近的死信告警
func DeadLetters(ctx context.Context, store kv.Store, limit int64) ([]AlertTask, error) {
	raw, err := store.ListRange(ctx, deadLetterKey, -limit, -1)
	if err != nil {
		return nil, err
	}
	tasks := make([]AlertTask, 0, len(raw))
	for _, item := range raw {
		var t AlertTask
		if err := json.Unmarshal([]byte(item), &t); err == nil {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}
