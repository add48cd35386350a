package journal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kasuganosora/rotation/game/ai"
	"github.com/kasuganosora/rotation/model"
)

// Options tunes the batch writer.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	// IdleTicks also journals ticks that attempted nothing.
	IdleTicks bool
}

// Entry is one decision waiting to be written.
type Entry struct {
	RunID     string
	AgentName string
	SimTime   time.Duration
	Decision  ai.Decision
}

// Service writes decision logs asynchronously in batches.
type Service struct {
	db     *gorm.DB
	ch     chan *model.DecisionLog
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	opts   Options
	logger *zap.Logger
}

// New creates a journal Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &Service{
		db:     db,
		ch:     make(chan *model.DecisionLog, 1024),
		stopCh: make(chan struct{}),
		opts:   opts,
		logger: logger.Named("journal"),
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Record enqueues a decision for async DB write. Idle ticks are dropped
// unless Options.IdleTicks is set.
func (svc *Service) Record(e Entry) {
	d := e.Decision
	if !svc.opts.IdleTicks && !d.Attempted && !d.Running && len(d.GuardErrors) == 0 {
		return
	}
	select {
	case svc.ch <- ToLog(e):
	default:
		svc.logger.Warn("journal channel full, dropping decision",
			zap.Int64("agent", int64(d.Agent)),
			zap.Uint64("tick", d.Tick))
	}
}

// ToLog converts a decision into its database row.
func ToLog(e Entry) *model.DecisionLog {
	d := e.Decision
	errsJSON, _ := json.Marshal(d.GuardErrors)
	rec := &model.DecisionLog{
		RunID:       e.RunID,
		Tick:        d.Tick,
		SimTimeMs:   e.SimTime.Milliseconds(),
		AgentID:     int64(d.Agent),
		AgentName:   e.AgentName,
		Role:        d.Role,
		Outcome:     d.Outcome.String(),
		Action:      d.Action,
		Ability:     string(d.Ability),
		Issued:      d.Issued,
		Running:     d.Running,
		Idle:        d.Idle,
		Reason:      d.Reason,
		GuardErrors: datatypes.JSON(errsJSON),
		Visited:     d.Visited,
	}
	if d.Trace != nil {
		traceJSON, _ := json.Marshal(d.Trace)
		rec.Trace = datatypes.JSON(traceJSON)
	}
	if d.Attempted || d.Running {
		target := int64(d.Target)
		rec.TargetID = &target
	}
	return rec
}

// Recent returns the newest decisions of agent, newest first.
func (svc *Service) Recent(ctx context.Context, agent ai.EntityID, limit int) ([]model.DecisionLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []model.DecisionLog
	err := svc.db.WithContext(ctx).
		Where("agent_id = ?", int64(agent)).
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// RecordLoad writes a role load outcome synchronously.
func (svc *Service) RecordLoad(ctx context.Context, rl *model.RoleLoad) error {
	return svc.db.WithContext(ctx).Create(rl).Error
}

// Loads returns the newest role load records, newest first.
func (svc *Service) Loads(ctx context.Context, limit int) ([]model.RoleLoad, error) {
	if limit <= 0 {
		limit = 50
	}
	var loads []model.RoleLoad
	err := svc.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&loads).Error
	return loads, err
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.once.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(svc.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]*model.DecisionLog, 0, svc.opts.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("journal batch write failed", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= svc.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			// Drain remaining entries.
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
