package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mediasift/mediasift/internal/config"
	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/observability"
)

// State is an engine's health state.
type State string

const (
	// StateStarting means the engine has not answered a probe yet.
	// Submissions queue and wait.
	StateStarting State = "starting"
	// StateReady means the last probe and last batch succeeded.
	StateReady State = "ready"
	// StateDegraded means recent batches failed while probes still pass.
	StateDegraded State = "degraded"
	// StateDown means probes fail; submissions are rejected.
	StateDown State = "down"
)

// downAfterFailures is how many consecutive probe failures mark an engine
// down.
const downAfterFailures = 3

// EngineStatus is a point-in-time engine health snapshot.
type EngineStatus struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Dim       int       `json:"dim"`
	LastError string    `json:"last_error,omitempty"`
	LastProbe time.Time `json:"last_probe,omitempty"`
}

type embedResult struct {
	vec []float32
	err error
}

type embedTicket struct {
	input  Input
	result chan embedResult
}

// engineWorker owns one engine: its queue, batch dispatcher, and health.
type engineWorker struct {
	client   *Client
	queue    chan *embedTicket
	sem      *semaphore.Weighted
	maxBatch int

	mu            sync.Mutex
	state         State
	lastErr       string
	lastProbe     time.Time
	probeFailures int
}

func (w *engineWorker) currentState() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *engineWorker) setState(state State, errMsg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
	w.lastErr = errMsg
}

// Pool fronts all configured engines. Callers submit single items; the pool
// groups them into batches per engine and dispatches when a batch fills or
// the batch latency elapses.
type Pool struct {
	cfg     config.EncoderConfig
	workers map[string]*engineWorker
	log     *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool builds clients for every configured engine.
func NewPool(cfg config.EncoderConfig, log *slog.Logger) (*Pool, error) {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 256
	}
	if cfg.BatchLatency <= 0 {
		cfg.BatchLatency = 50 * time.Millisecond
	}

	pool := &Pool{
		cfg:     cfg,
		workers: make(map[string]*engineWorker, len(cfg.Engines)),
		log:     observability.WithComponent(log, "encoder"),
		stop:    make(chan struct{}),
	}

	for _, engineCfg := range cfg.Engines {
		client, err := NewClient(engineCfg, cfg.Device)
		if err != nil {
			return nil, err
		}
		maxBatch := engineCfg.MaxBatchSize
		if maxBatch <= 0 {
			maxBatch = 16
		}
		pool.workers[engineCfg.Name] = &engineWorker{
			client:   client,
			queue:    make(chan *embedTicket, cfg.MaxPending),
			sem:      semaphore.NewWeighted(int64(cfg.MaxPending)),
			maxBatch: maxBatch,
			state:    StateStarting,
		}
	}
	return pool, nil
}

// Start launches batch dispatchers and health probe loops.
func (p *Pool) Start(ctx context.Context) {
	for name, worker := range p.workers {
		p.wg.Add(2)
		go p.dispatchLoop(worker)
		go p.probeLoop(ctx, name, worker)
	}
	p.log.Info("encoder pool started", "engines", len(p.workers))
}

// Close stops dispatchers and waits for in-flight batches.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

// Engines returns the configured engine names.
func (p *Pool) Engines() []string {
	names := make([]string, 0, len(p.workers))
	for name := range p.workers {
		names = append(names, name)
	}
	return names
}

// HasEngine reports whether an engine with the given name is configured.
func (p *Pool) HasEngine(name string) bool {
	_, ok := p.workers[name]
	return ok
}

// Health returns a snapshot of every engine's state.
func (p *Pool) Health() []EngineStatus {
	statuses := make([]EngineStatus, 0, len(p.workers))
	for name, worker := range p.workers {
		worker.mu.Lock()
		statuses = append(statuses, EngineStatus{
			Name:      name,
			State:     worker.state,
			Dim:       worker.client.Dim(),
			LastError: worker.lastErr,
			LastProbe: worker.lastProbe,
		})
		worker.mu.Unlock()
	}
	return statuses
}

// Embed submits one input to the named engine and waits for its vector.
// The result is L2-normalized. Blocks while the engine queue is full;
// fails fast when the engine is down.
func (p *Pool) Embed(ctx context.Context, engine string, input Input) ([]float32, error) {
	worker, ok := p.workers[engine]
	if !ok {
		return nil, models.WrapKind(models.ErrKindModel,
			fmt.Errorf("%w: no engine %q configured", models.ErrModelUnavailable, engine))
	}
	if worker.currentState() == StateDown {
		return nil, models.WrapKind(models.ErrKindModel,
			fmt.Errorf("%w: engine %s is down", models.ErrModelUnavailable, engine))
	}

	if err := worker.sem.Acquire(ctx, 1); err != nil {
		return nil, models.WrapKind(models.ErrKindCancelled, models.ErrCancelled)
	}
	defer worker.sem.Release(1)

	ticket := &embedTicket{input: input, result: make(chan embedResult, 1)}
	select {
	case worker.queue <- ticket:
	case <-ctx.Done():
		return nil, models.WrapKind(models.ErrKindCancelled, models.ErrCancelled)
	case <-p.stop:
		return nil, models.WrapKind(models.ErrKindModel,
			fmt.Errorf("%w: pool closed", models.ErrModelUnavailable))
	}

	select {
	case res := <-ticket.result:
		return res.vec, res.err
	case <-ctx.Done():
		return nil, models.WrapKind(models.ErrKindCancelled, models.ErrCancelled)
	}
}

// EmbedBatch submits inputs one by one and collects the vectors in order.
// The pool regroups them into engine batches internally.
func (p *Pool) EmbedBatch(ctx context.Context, engine string, inputs []Input) ([][]float32, error) {
	vecs := make([][]float32, len(inputs))
	for i, input := range inputs {
		vec, err := p.Embed(ctx, engine, input)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		vecs[i] = vec
	}
	return vecs, nil
}

// Transcribe converts speech PCM to text via the whisper engine. Not
// batched; transcription latency dominates.
func (p *Pool) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	worker, ok := p.workers[EngineWhisper]
	if !ok {
		return "", models.WrapKind(models.ErrKindModel,
			fmt.Errorf("%w: no %s engine configured", models.ErrModelUnavailable, EngineWhisper))
	}
	if worker.currentState() == StateDown {
		return "", models.WrapKind(models.ErrKindModel,
			fmt.Errorf("%w: engine %s is down", models.ErrModelUnavailable, EngineWhisper))
	}
	if err := worker.sem.Acquire(ctx, 1); err != nil {
		return "", models.WrapKind(models.ErrKindCancelled, models.ErrCancelled)
	}
	defer worker.sem.Release(1)

	return worker.client.Transcribe(ctx, pcm, sampleRate)
}

// DetectFaces runs the face engine on an encoded image.
func (p *Pool) DetectFaces(ctx context.Context, imageData []byte) ([]Face, error) {
	worker, ok := p.workers[EngineFace]
	if !ok {
		return nil, models.WrapKind(models.ErrKindModel,
			fmt.Errorf("%w: no %s engine configured", models.ErrModelUnavailable, EngineFace))
	}
	if worker.currentState() == StateDown {
		return nil, models.WrapKind(models.ErrKindModel,
			fmt.Errorf("%w: engine %s is down", models.ErrModelUnavailable, EngineFace))
	}
	if err := worker.sem.Acquire(ctx, 1); err != nil {
		return nil, models.WrapKind(models.ErrKindCancelled, models.ErrCancelled)
	}
	defer worker.sem.Release(1)

	faces, err := worker.client.DetectFaces(ctx, imageData)
	if err != nil {
		return nil, err
	}
	for i := range faces {
		faces[i].Embedding, err = Normalize(faces[i].Embedding)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
	}
	return faces, nil
}

// dispatchLoop drains one engine's queue into batches.
func (p *Pool) dispatchLoop(worker *engineWorker) {
	defer p.wg.Done()
	for {
		var first *embedTicket
		select {
		case first = <-worker.queue:
		case <-p.stop:
			return
		}

		batch := []*embedTicket{first}
		timer := time.NewTimer(p.cfg.BatchLatency)
	fill:
		for len(batch) < worker.maxBatch {
			select {
			case ticket := <-worker.queue:
				batch = append(batch, ticket)
			case <-timer.C:
				break fill
			case <-p.stop:
				timer.Stop()
				p.dispatch(worker, batch)
				return
			}
		}
		timer.Stop()

		p.dispatch(worker, batch)
	}
}

// dispatch embeds one batch. On failure the batch is retried item by item
// so one poisoned input does not fail its neighbors.
func (p *Pool) dispatch(worker *engineWorker, batch []*embedTicket) {
	ctx := context.Background()
	inputs := make([]Input, len(batch))
	for i, ticket := range batch {
		inputs[i] = ticket.input
	}

	vecs, err := worker.client.Embed(ctx, inputs)
	if err == nil {
		worker.setState(StateReady, "")
		for i, ticket := range batch {
			vec, nerr := Normalize(vecs[i])
			ticket.result <- embedResult{vec: vec, err: nerr}
		}
		return
	}

	worker.setState(StateDegraded, err.Error())
	p.log.Warn("embedding batch failed, retrying items individually",
		"engine", worker.client.Name(), "batch_size", len(batch), "error", err)

	if len(batch) == 1 {
		batch[0].result <- embedResult{err: models.WrapKind(models.ErrKindModel,
			fmt.Errorf("%w: %v", models.ErrBatchFailed, err))}
		return
	}

	recovered := false
	for _, ticket := range batch {
		vec, itemErr := worker.client.Embed(ctx, []Input{ticket.input})
		if itemErr != nil {
			ticket.result <- embedResult{err: models.WrapKind(models.ErrKindModel,
				fmt.Errorf("%w: %v", models.ErrBatchFailed, itemErr))}
			continue
		}
		recovered = true
		normalized, nerr := Normalize(vec[0])
		ticket.result <- embedResult{vec: normalized, err: nerr}
	}
	if recovered {
		worker.setState(StateReady, "")
	}
}

// probeLoop polls the engine health endpoint, driving starting/ready/down
// transitions.
func (p *Pool) probeLoop(ctx context.Context, name string, worker *engineWorker) {
	defer p.wg.Done()

	interval := p.cfg.ProbeInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	probe := func() {
		err := worker.client.Health(ctx)
		worker.mu.Lock()
		defer worker.mu.Unlock()
		worker.lastProbe = time.Now()
		if err != nil {
			worker.probeFailures++
			worker.lastErr = err.Error()
			if worker.probeFailures >= downAfterFailures {
				if worker.state != StateDown {
					p.log.Error("engine down", "engine", name, "error", err)
				}
				worker.state = StateDown
			}
			return
		}
		worker.probeFailures = 0
		if worker.state == StateStarting || worker.state == StateDown {
			p.log.Info("engine ready", "engine", name)
			worker.state = StateReady
		}
	}

	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			probe()
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Normalize scales a vector to unit L2 norm. Non-finite values and zero
// vectors have no unit form and are rejected; an engine emitting them is
// broken and the item must fail rather than index a meaningless vector.
func Normalize(vec []float32) ([]float32, error) {
	var sum float64
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, models.WrapKind(models.ErrKindModel,
				fmt.Errorf("%w: non-finite embedding value", models.ErrShapeMismatch))
		}
		sum += f * f
	}
	if sum == 0 {
		return nil, models.WrapKind(models.ErrKindModel,
			fmt.Errorf("%w: zero embedding", models.ErrShapeMismatch))
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out, nil
}
