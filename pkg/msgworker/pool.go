package msgworker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var jobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "message_jobs_total",
		Help: "Inbound message jobs by outcome (queued, rejected, processed, failed, panicked).",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(jobsTotal)
}

// Job es el procesamiento de un mensaje entrante de una instancia.
// Los jobs del mismo chat caen siempre en el mismo worker y se ejecutan en orden.
type Job struct {
	TenantID   string
	InstanceID string
	ChatID     string
	Handler    func(ctx context.Context) error
}

func (j Job) key() string {
	return j.InstanceID + "|" + j.ChatID
}

// Stats es una foto de los contadores del pool.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	Queued     int   `json:"queued"`
	Busy       int   `json:"busy"`
	Dispatched int64 `json:"dispatched"`
	Processed  int64 `json:"processed"`
	Rejected   int64 `json:"rejected"`
	Failed     int64 `json:"failed"`
}

// Pool reparte jobs entre workers con cola propia, usando hash del chat.
type Pool struct {
	numWorkers int
	queueSize  int
	workers    []*worker
	wg         sync.WaitGroup
	stopOnce   sync.Once
	mu         sync.RWMutex // protege el envío frente al cierre de colas
	stopped    bool

	dispatched int64
	processed  int64
	rejected   int64
	failed     int64
}

type worker struct {
	id    int
	jobs  chan Job
	busy  int32
	pool  *Pool
	ctx   context.Context
	close context.CancelFunc
}

// New crea el pool sin arrancarlo.
func New(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 8
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*worker, numWorkers),
	}
}

// Start arranca los workers. ctx es el contexto base de cada job.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		wctx, cancel := context.WithCancel(ctx)
		w := &worker{
			id:    i,
			jobs:  make(chan Job, p.queueSize),
			pool:  p,
			ctx:   wctx,
			close: cancel,
		}
		p.workers[i] = w
		p.wg.Add(1)
		go w.run()
	}
	logrus.Infof("[MSG_WORKER_POOL] Started with %d workers, queue size: %d", p.numWorkers, p.queueSize)
}

// TryDispatch encola sin bloquear. false significa pool lleno o detenido;
// el caller decide si procesa en línea.
func (p *Pool) TryDispatch(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped || p.workers[0] == nil {
		atomic.AddInt64(&p.rejected, 1)
		jobsTotal.WithLabelValues("rejected").Inc()
		return false
	}

	shard := p.shardFor(job.InstanceID, job.ChatID)
	select {
	case p.workers[shard].jobs <- job:
		atomic.AddInt64(&p.dispatched, 1)
		jobsTotal.WithLabelValues("queued").Inc()
		return true
	default:
		atomic.AddInt64(&p.rejected, 1)
		jobsTotal.WithLabelValues("rejected").Inc()
		logrus.Warnf("[MSG_WORKER_POOL] Worker %d queue full, rejecting job for %s", shard, job.key())
		return false
	}
}

// Stop deja de aceptar jobs, vacía las colas y espera a los workers.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		for _, w := range p.workers {
			if w != nil {
				close(w.jobs)
			}
		}
		p.mu.Unlock()

		p.wg.Wait()
		for _, w := range p.workers {
			if w != nil {
				w.close()
			}
		}
		logrus.Info("[MSG_WORKER_POOL] All workers stopped")
	})
}

func (p *Pool) shardFor(instanceID, chatID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(instanceID + "|" + chatID))
	return int(h.Sum32() % uint32(p.numWorkers))
}

func (p *Pool) Stats() Stats {
	s := Stats{
		Workers:    p.numWorkers,
		QueueSize:  p.queueSize,
		Dispatched: atomic.LoadInt64(&p.dispatched),
		Processed:  atomic.LoadInt64(&p.processed),
		Rejected:   atomic.LoadInt64(&p.rejected),
		Failed:     atomic.LoadInt64(&p.failed),
	}
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		s.Queued += len(w.jobs)
		if atomic.LoadInt32(&w.busy) == 1 {
			s.Busy++
		}
	}
	return s
}

// run procesa hasta que la cola se cierra; los jobs pendientes se ejecutan antes de salir.
func (w *worker) run() {
	defer w.pool.wg.Done()
	for job := range w.jobs {
		w.execute(job)
	}
}

func (w *worker) execute(job Job) {
	atomic.StoreInt32(&w.busy, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&w.pool.failed, 1)
			jobsTotal.WithLabelValues("panicked").Inc()
			logrus.Errorf("[MSG_WORKER_POOL] Worker %d panic for %s: %v", w.id, job.key(), r)
		}
		atomic.StoreInt32(&w.busy, 0)
		atomic.AddInt64(&w.pool.processed, 1)
	}()

	if err := job.Handler(w.ctx); err != nil {
		atomic.AddInt64(&w.pool.failed, 1)
		jobsTotal.WithLabelValues("failed").Inc()
		logrus.WithError(err).WithFields(logrus.Fields{
			"tenant_id":   job.TenantID,
			"instance_id": job.InstanceID,
			"chat_id":     job.ChatID,
		}).Error("[MSG_WORKER_POOL] Job failed")
		return
	}
	jobsTotal.WithLabelValues("processed").Inc()
}
