package dispatch

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"

	"bken/server/internal/policy"
	"bken/server/internal/verr"
)

// downloadState is one asset-download job's lifecycle (spec §4.J: queued →
// in-progress → {complete, failed, timed-out}).
type downloadState string

const (
	downloadQueued     downloadState = "queued"
	downloadInProgress downloadState = "in-progress"
	downloadComplete   downloadState = "complete"
	downloadFailed     downloadState = "failed"
	downloadTimedOut   downloadState = "timed-out"
)

// downloadJob tracks one in-flight or finished asset fetch.
type downloadJob struct {
	id       uint64
	slot     uint32
	addr     *net.UDPAddr
	identity string
	url      string
	alias    string
	public   bool

	state downloadState
	data  []byte
	err   error
}

// downloadPool runs asset fetches off the main dispatch goroutine, capped
// at policy.MaxConcurrentDownloads concurrent transfers, each size- and
// time-capped (spec §4.J). The dispatcher polls job status each tick
// rather than blocking on completion.
type downloadPool struct {
	mu      sync.Mutex
	jobs    map[uint64]*downloadJob
	nextID  uint64
	active  int
	pending []*downloadJob

	client *http.Client
}

func newDownloadPool() *downloadPool {
	return &downloadPool{
		jobs:   make(map[uint64]*downloadJob),
		client: &http.Client{Timeout: policy.DownloadTimeout},
	}
}

// Enqueue queues a new download and returns its job id. public marks the
// resulting file visible in the public catalog immediately on completion
// (spec §4.D public-add flow), skipping the separate set-visibility step.
func (p *downloadPool) Enqueue(slot uint32, addr *net.UDPAddr, identity, url, alias string, public bool) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	job := &downloadJob{id: p.nextID, slot: slot, addr: addr, identity: identity, url: url, alias: alias, public: public, state: downloadQueued}
	p.jobs[job.id] = job
	p.pending = append(p.pending, job)
	p.fillSlots()
	return job.id
}

// fillSlots starts queued jobs until MaxConcurrentDownloads are active.
// Must be called with p.mu held.
func (p *downloadPool) fillSlots() {
	for p.active < policy.MaxConcurrentDownloads && len(p.pending) > 0 {
		job := p.pending[0]
		p.pending = p.pending[1:]
		job.state = downloadInProgress
		p.active++
		go p.run(job)
	}
}

func (p *downloadPool) run(job *downloadJob) {
	ctx, cancel := context.WithTimeout(context.Background(), policy.DownloadTimeout)
	defer cancel()

	data, err := p.fetch(ctx, job.url)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.active--
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		job.state = downloadTimedOut
		job.err = verr.New(verr.Transient, "download timed out")
	case err != nil:
		job.state = downloadFailed
		job.err = err
	default:
		job.state = downloadComplete
		job.data = data
	}
	p.fillSlots()
}

func (p *downloadPool) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, verr.Wrap(verr.ValidationError, "build download request", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, verr.Wrap(verr.Transient, "download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, verr.New(verr.Transient, "download returned non-200 status")
	}
	limited := io.LimitReader(resp.Body, policy.MaxAssetSizeBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, verr.Wrap(verr.Transient, "read download body", err)
	}
	if int64(len(data)) > policy.MaxAssetSizeBytes {
		return nil, verr.New(verr.ValidationError, "asset exceeds maximum size")
	}
	return data, nil
}

// Poll returns every job that has left the in-progress state since the
// last poll, removing them from the pool.
func (p *downloadPool) Poll() []*downloadJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	var done []*downloadJob
	for id, job := range p.jobs {
		if job.state == downloadComplete || job.state == downloadFailed || job.state == downloadTimedOut {
			done = append(done, job)
			delete(p.jobs, id)
		}
	}
	return done
}
