package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var retryLimit int = 5

type PoolStats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
}

type PoolWorker struct {
	ctx         context.Context
	logger      *logrus.Entry
	queue       *Queue
	config      *Config
	sqlite      *Sqlite
	engine      *Engine
	hub         *Hub
	waitGroup   *sync.WaitGroup
	workChannel chan Clip
	workers     []*Worker

	processed *atomic.Int64
	failed    *atomic.Int64
	retried   *atomic.Int64
}

func NewPoolWorker(ctx context.Context, queue *Queue, config *Config, sqlite *Sqlite,
	engine *Engine, hub *Hub, waitGroup *sync.WaitGroup) (*PoolWorker, error) {
	logger, err := CreateLogger("poolWorker")
	if err != nil {
		return nil, err
	}

	p := &PoolWorker{
		ctx:         ctx,
		logger:      logger,
		queue:       queue,
		config:      config,
		sqlite:      sqlite,
		engine:      engine,
		hub:         hub,
		waitGroup:   waitGroup,
		workChannel: make(chan Clip),
		processed:   atomic.NewInt64(0),
		failed:      atomic.NewInt64(0),
		retried:     atomic.NewInt64(0),
	}

	for i := 0; i < config.Workers; i++ {
		workerLogger, err := CreateLogger("worker")
		if err != nil {
			return nil, err
		}

		p.workers = append(p.workers, NewWorker(i, workerLogger.WithField("workerId", i), p, hub))
	}

	return p, nil
}

func (p *PoolWorker) RunDispatcher() {
	for _, worker := range p.workers {
		go worker.start()
	}

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("Dispatcher stopping")
			close(p.workChannel)
			return
		default:
			clip, ok := p.queue.Dequeue()
			if !ok {
				time.Sleep(100 * time.Millisecond)
				continue
			}

			select {
			case p.workChannel <- clip:
			case <-p.ctx.Done():
				// put it back so it's picked up on the next start
				p.queue.Enqueue(clip)
			}
		}
	}
}

func (p *PoolWorker) GetWorkerInfos() []WorkerInfo {
	infos := make([]WorkerInfo, 0, len(p.workers))
	for _, worker := range p.workers {
		infos = append(infos, worker.GetInfo())
	}

	return infos
}

func (p *PoolWorker) Stats() PoolStats {
	return PoolStats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Retried:   p.retried.Load(),
	}
}
