package core

import (
	"errors"
	"rail-gateway/models"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultLogBatchSize = 100
	defaultLogFlushTime = 5 * time.Second
	// 尝试日志表只保留最新的条数
	attemptLogRetention = 100
)

// AsyncAttemptLogger 异步尝试日志记录器
// 实现 AttemptRecorder：入队非阻塞，后台批量写入并聚合每个 Key 的统计
type AsyncAttemptLogger struct {
	db        *gorm.DB
	logChan   chan *models.AttemptLog
	logger    *logrus.Logger
	batchSize int
	flushTime time.Duration
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once
}

// NewAsyncAttemptLogger 创建并启动后台 Worker
func NewAsyncAttemptLogger(db *gorm.DB, logger *logrus.Logger) *AsyncAttemptLogger {
	return newAsyncAttemptLogger(db, logger, defaultLogBatchSize, defaultLogFlushTime)
}

func newAsyncAttemptLogger(db *gorm.DB, logger *logrus.Logger, batchSize int, flushTime time.Duration) *AsyncAttemptLogger {
	l := &AsyncAttemptLogger{
		db:        db,
		logChan:   make(chan *models.AttemptLog, 1000),
		logger:    logger,
		batchSize: batchSize,
		flushTime: flushTime,
		quit:      make(chan struct{}),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.workerLoop()
	}()
	return l
}

// Record 提交记录到队列，队列满时丢弃，不阻塞请求
func (l *AsyncAttemptLogger) Record(log *models.AttemptLog) {
	select {
	case l.logChan <- log:
	default:
		l.logger.Warn("Attempt log channel full, dropping attempt log")
	}
}

func (l *AsyncAttemptLogger) workerLoop() {
	var batch []*models.AttemptLog
	ticker := time.NewTicker(l.flushTime)
	defer ticker.Stop()

	for {
		select {
		case log := <-l.logChan:
			batch = append(batch, log)
			if len(batch) >= l.batchSize {
				l.flush(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = nil
			}
		case <-l.quit:
			// 退出前把队列里剩余的也写掉
			for {
				select {
				case log := <-l.logChan:
					batch = append(batch, log)
				default:
					if len(batch) > 0 {
						l.flush(batch)
					}
					return
				}
			}
		}
	}
}

// flush 批量写入并更新聚合统计
func (l *AsyncAttemptLogger) flush(logs []*models.AttemptLog) {
	if len(logs) == 0 {
		return
	}

	l.logger.Debugf("[AttemptLogger] Flushing %d attempt logs", len(logs))

	if err := l.db.CreateInBatches(logs, len(logs)).Error; err != nil {
		l.logger.Errorf("[AttemptLogger] Failed to flush logs: %v", err)
	}

	l.prune()

	deltas := make(map[string]*models.KeyStats)
	for _, log := range logs {
		d, ok := deltas[log.KeyPrefix]
		if !ok {
			d = &models.KeyStats{KeyPrefix: log.KeyPrefix}
			deltas[log.KeyPrefix] = d
		}
		d.TotalAttempts++
		d.TotalLatency += float64(log.Duration)
		switch log.Result {
		case ResultSuccess:
			d.Success++
		case ResultQuotaExceeded:
			d.QuotaExceeded++
		case ResultHTTPStatus:
			d.HTTPErrors++
		case ResultInvalidJSON:
			d.InvalidJSON++
		default:
			d.TransportError++
		}
	}

	for prefix, delta := range deltas {
		var stat models.KeyStats
		err := l.db.Where("key_prefix = ?", prefix).First(&stat).Error
		switch {
		case err == nil:
			stat.Success += delta.Success
			stat.QuotaExceeded += delta.QuotaExceeded
			stat.HTTPErrors += delta.HTTPErrors
			stat.TransportError += delta.TransportError
			stat.InvalidJSON += delta.InvalidJSON
			stat.TotalLatency += delta.TotalLatency
			stat.TotalAttempts += delta.TotalAttempts
			if err := l.db.Save(&stat).Error; err != nil {
				l.logger.Errorf("[AttemptLogger] Failed to update stats for %s: %v", prefix, err)
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := l.db.Create(delta).Error; err != nil {
				l.logger.Errorf("[AttemptLogger] Failed to create stats for %s: %v", prefix, err)
			}
		default:
			l.logger.Errorf("[AttemptLogger] Failed to load stats for %s: %v", prefix, err)
		}
	}
}

// prune 只保留最新的 attemptLogRetention 条
func (l *AsyncAttemptLogger) prune() {
	var count int64
	l.db.Model(&models.AttemptLog{}).Count(&count)
	if count <= attemptLogRetention {
		return
	}
	var pivotID uint
	l.db.Model(&models.AttemptLog{}).Select("id").Order("id desc").Offset(attemptLogRetention).Limit(1).Scan(&pivotID)
	if pivotID > 0 {
		l.db.Where("id <= ?", pivotID).Delete(&models.AttemptLog{})
	}
}

// Close 停止 Worker 并刷新剩余日志，可重复调用
func (l *AsyncAttemptLogger) Close() {
	l.closeOnce.Do(func() {
		close(l.quit)
		l.wg.Wait()
	})
}

// KeyStats 读取所有 Key 的聚合统计
func (l *AsyncAttemptLogger) KeyStats() ([]models.KeyStats, error) {
	var stats []models.KeyStats
	if err := l.db.Order("key_prefix asc").Find(&stats).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// RecentAttempts 最新的 limit 条尝试记录
func (l *AsyncAttemptLogger) RecentAttempts(limit int) ([]models.AttemptLog, error) {
	if limit <= 0 || limit > attemptLogRetention {
		limit = attemptLogRetention
	}
	var logs []models.AttemptLog
	if err := l.db.Order("id desc").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
