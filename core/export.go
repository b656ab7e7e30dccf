package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/scrollback/internal/logx"
	"pkt.systems/scrollback/schema"
)

// ExportOptions configures an ExportTask.
type ExportOptions struct {
	Registry      *Registry
	Chooser       DestinationChooser
	Opener        SinkOpener
	Decoders      DecoderFactory
	Events        EventSink
	Reporter      ErrorReporter
	ChunkLines    int
	DefaultFormat schema.Format
}

// ExportTask streams the history of each added session to its own sink.
// Execute registers one job per session and returns; sinks pull chunks
// through DataRequested and finish with Result.
type ExportTask struct {
	taskBase
	chooser  DestinationChooser
	opener   SinkOpener
	decoders DecoderFactory
	reporter ErrorReporter
	chunk    int
	format   schema.Format

	jobsMu   sync.Mutex
	jobs     map[schema.JobID]*exportJob
	pending  int
	executed bool
}

var (
	_ Task          = (*ExportTask)(nil)
	_ SinkCallbacks = (*ExportTask)(nil)
)

// NewExportTask constructs an export task.
func NewExportTask(opts ExportOptions) *ExportTask {
	chunk := opts.ChunkLines
	if chunk <= 0 {
		chunk = schema.DefaultChunkLines
	}
	format := opts.DefaultFormat
	if format == "" {
		format = schema.FormatPlain
	}
	return &ExportTask{
		taskBase: newTaskBase(schema.TaskExport, opts.Registry, opts.Events),
		chooser:  opts.Chooser,
		opener:   opts.Opener,
		decoders: opts.Decoders,
		reporter: reporterOrLog(opts.Reporter),
		chunk:    chunk,
		format:   format,
		jobs:     make(map[schema.JobID]*exportJob),
	}
}

// Execute opens one sink per session in insertion order and starts its job.
// Sessions whose destination is declined or invalid are skipped. Completion
// fires once every started job reached a terminal result, or immediately
// when no job was started. Canceling ctx aborts the running transfers.
func (t *ExportTask) Execute(ctx context.Context) error {
	if t.Disposed() {
		return schema.ErrTaskDisposed
	}
	if t.chooser == nil || t.opener == nil || t.decoders == nil {
		return errors.New("export task requires a chooser, a sink opener and a decoder factory")
	}
	t.jobsMu.Lock()
	if t.executed {
		t.jobsMu.Unlock()
		return schema.ErrTaskExecuted
	}
	t.executed = true
	// Held until every job is registered so an early Result cannot complete the task.
	t.pending = 1
	t.jobsMu.Unlock()

	log := logx.WithTask(ctx, t.id, t.kind)
	ctx = logx.ContextWithTaskLogger(ctx, log, t.id)
	sessions := t.Sessions()
	log.Info("export task start", "sessions", len(sessions))

	for _, sessionID := range sessions {
		t.startJob(ctx, sessionID)
	}
	t.finishOne()
	return nil
}

func (t *ExportTask) startJob(ctx context.Context, sessionID schema.SessionID) {
	log := logx.WithSession(ctx, sessionID)
	sess, err := t.lookup(sessionID)
	if err != nil {
		log.Warn("export session missing", "err", err)
		t.reporter.ReportError(ctx, sessionID, fmt.Errorf("%w: %w", schema.ErrTransferFailure, err))
		return
	}
	dest, ok, err := t.chooser.ChooseDestination(ctx, sess.Info())
	if err != nil {
		log.Warn("export destination failed", "err", err)
		return
	}
	if !ok {
		log.Info("export destination declined")
		return
	}
	dest, err = t.normalizeDestination(dest)
	if err != nil {
		log.Warn("export destination invalid", "err", err)
		return
	}
	log = logx.WithDestination(log, dest)
	dec, err := t.decoders.NewDecoder(dest.Format)
	if err != nil {
		log.Warn("export destination invalid", "err", err)
		return
	}
	sink, err := t.opener.Open(ctx, dest)
	if err != nil {
		releaseDecoder(dec)
		log.Warn("export sink open failed", "err", err)
		t.reporter.ReportError(ctx, sessionID, fmt.Errorf("%w: %w", schema.ErrTransferFailure, err))
		return
	}

	jobID := newJobID()
	log = log.With("job", jobID)
	jobCtx, cancel := context.WithCancel(logx.ContextWithJobLogger(ctx, log, sessionID, jobID))
	job := &exportJob{
		id:        jobID,
		sessionID: sessionID,
		dest:      dest,
		dec:       dec,
		chunk:     t.chunk,
		last:      sess.History().FirstLine() - 1,
		gen:       sess.History().Generation(),
		ctx:       jobCtx,
		cancel:    cancel,
		started:   time.Now(),
	}

	t.jobsMu.Lock()
	t.jobs[jobID] = job
	t.pending++
	t.jobsMu.Unlock()

	log.Info("export job start", "lines", sess.History().LineCount())
	t.sink.OnTaskEvent(schema.TaskEvent{
		Type:      schema.TaskEventJobStarted,
		TaskID:    t.id,
		Kind:      t.kind,
		SessionID: sessionID,
		JobID:     jobID,
		At:        time.Now(),
	})
	sink.Start(jobCtx, jobID, t)
}

func (t *ExportTask) normalizeDestination(dest schema.Destination) (schema.Destination, error) {
	dest.URL = strings.TrimSpace(dest.URL)
	if dest.URL == "" {
		return dest, fmt.Errorf("%w: empty destination", schema.ErrInvalidDestination)
	}
	if dest.Format == "" {
		dest.Format = t.format
	}
	format, err := schema.ParseFormat(string(dest.Format))
	if err != nil {
		return dest, fmt.Errorf("%w: %w", schema.ErrInvalidDestination, err)
	}
	dest.Format = format
	return dest, nil
}

// DataRequested returns the next chunk for a job. An empty chunk signals that
// the history is exhausted.
func (t *ExportTask) DataRequested(ctx context.Context, jobID schema.JobID) ([]byte, error) {
	job := t.job(jobID)
	if job == nil {
		return nil, fmt.Errorf("%w: %s", schema.ErrJobNotFound, jobID)
	}
	sess, err := t.lookup(job.sessionID)
	if err != nil {
		return nil, err
	}
	chunk, from, to, err := job.fetch(sess.History())
	if err != nil {
		return nil, err
	}
	if to >= from {
		pslog.Ctx(job.ctx).Debug("export chunk fetched", "from", from, "to", to, "bytes", len(chunk))
	}
	return chunk, nil
}

// Result records the terminal outcome of a job. Failures are surfaced through
// the error reporter; sibling jobs keep running.
func (t *ExportTask) Result(jobID schema.JobID, err error) {
	job := t.takeJob(jobID)
	if job == nil {
		return
	}
	job.release()
	log := pslog.Ctx(job.ctx)
	if err != nil {
		failure := fmt.Errorf("%w: %w", schema.ErrTransferFailure, err)
		log.Warn("export job failed", "err", err, "last_line", job.lastLine())
		t.reporter.ReportError(job.ctx, job.sessionID, failure)
		t.finishJob(job, failure)
		return
	}
	log.Info("export job finished", "lines", job.lastLine()+1, "duration", time.Since(job.started))
	t.finishJob(job, nil)
}

// Cancel aborts a running job without waiting for its sink.
func (t *ExportTask) Cancel(jobID schema.JobID) error {
	job := t.takeJob(jobID)
	if job == nil {
		return fmt.Errorf("%w: %s", schema.ErrJobNotFound, jobID)
	}
	job.release()
	pslog.Ctx(job.ctx).Info("export job canceled", "last_line", job.lastLine())
	t.finishJob(job, schema.ErrJobCanceled)
	return nil
}

// CancelAll aborts every running job.
func (t *ExportTask) CancelAll() {
	for _, status := range t.Jobs() {
		_ = t.Cancel(status.ID)
	}
}

// Jobs returns a snapshot of the running jobs ordered by session insertion.
func (t *ExportTask) Jobs() []schema.JobStatus {
	t.jobsMu.Lock()
	jobs := make([]*exportJob, 0, len(t.jobs))
	for _, job := range t.jobs {
		jobs = append(jobs, job)
	}
	t.jobsMu.Unlock()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].started.Before(jobs[j].started) })
	out := make([]schema.JobStatus, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, schema.JobStatus{
			ID:          job.id,
			SessionID:   job.sessionID,
			Destination: job.dest,
			LastLine:    job.lastLine(),
		})
	}
	return out
}

func (t *ExportTask) job(jobID schema.JobID) *exportJob {
	t.jobsMu.Lock()
	defer t.jobsMu.Unlock()
	return t.jobs[jobID]
}

func (t *ExportTask) takeJob(jobID schema.JobID) *exportJob {
	t.jobsMu.Lock()
	defer t.jobsMu.Unlock()
	job := t.jobs[jobID]
	if job != nil {
		delete(t.jobs, jobID)
	}
	return job
}

func (t *ExportTask) finishJob(job *exportJob, err error) {
	t.sink.OnTaskEvent(schema.TaskEvent{
		Type:      schema.TaskEventJobFinished,
		TaskID:    t.id,
		Kind:      t.kind,
		SessionID: job.sessionID,
		JobID:     job.id,
		Err:       err,
		At:        time.Now(),
	})
	t.finishOne()
}

func (t *ExportTask) finishOne() {
	t.jobsMu.Lock()
	t.pending--
	done := t.pending == 0
	t.jobsMu.Unlock()
	if done {
		t.complete("")
	}
}

// exportJob is one chunked transfer of one session's history. last is the
// index of the last line handed out and only moves forward.
type exportJob struct {
	id        schema.JobID
	sessionID schema.SessionID
	dest      schema.Destination
	chunk     int
	ctx       context.Context
	cancel    context.CancelFunc
	started   time.Time

	pulling atomic.Bool

	mu       sync.Mutex
	dec      Decoder
	last     int
	gen      uint64
	begun    bool
	needSep  bool
	sealed   bool
	released bool
}

// fetch produces the next chunk: lines (last, last+chunk] capped at the
// current line count. Every chunk but the last ends in a separator. When the
// history is exhausted a decoder epilogue is emitted once; after that, and for
// decoders without one, fetch returns an empty chunk and leaves the job as is.
func (j *exportJob) fetch(hist HistoryBuffer) (chunk []byte, from, to int, err error) {
	if !j.pulling.CompareAndSwap(false, true) {
		return nil, 0, -1, schema.ErrPullInFlight
	}
	defer j.pulling.Store(false)

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.released {
		return nil, 0, -1, schema.ErrJobCanceled
	}
	if j.sealed {
		return nil, 0, -1, nil
	}
	for {
		chunk, from, to, err = j.fetchLocked(hist)
		// Trimming raced the read; the next pass starts at the new oldest line.
		if !errors.Is(err, schema.ErrLineTrimmed) {
			return chunk, from, to, err
		}
	}
}

func (j *exportJob) fetchLocked(hist HistoryBuffer) ([]byte, int, int, error) {
	n := hist.LineCount()
	if hist.Generation() != j.gen || n < j.last+1 {
		return nil, 0, -1, fmt.Errorf("%w: had %d lines, now %d", schema.ErrHistoryShrunk, j.last+1, n)
	}
	// Lines trimmed away by a fixed or disabled history are skipped.
	if first := hist.FirstLine(); j.last+1 < first {
		j.last = first - 1
	}

	var out bytes.Buffer
	if n-1 == j.last {
		var tail bytes.Buffer
		if err := j.dec.End(&tail); err != nil {
			return nil, 0, -1, err
		}
		if tail.Len() == 0 {
			return nil, 0, -1, nil
		}
		if !j.begun {
			if err := j.dec.Begin(&out); err != nil {
				return nil, 0, -1, err
			}
		}
		out.Write(tail.Bytes())
		j.begun = true
		j.sealed = true
		return out.Bytes(), 0, -1, nil
	}

	from := j.last + 1
	to := min(j.last+j.chunk, n-1)
	sep := j.dec.Separator()
	if !j.begun {
		if err := j.dec.Begin(&out); err != nil {
			return nil, 0, -1, err
		}
	} else if j.needSep {
		out.WriteString(sep)
	}
	if err := hist.Decode(&out, from, to, j.dec); err != nil {
		return nil, 0, -1, err
	}
	needSep := true
	if to < n-1 {
		out.WriteString(sep)
		needSep = false
	}
	j.begun = true
	j.needSep = needSep
	j.last = to
	return out.Bytes(), from, to, nil
}

func (j *exportJob) lastLine() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}

// release cancels the sink context and frees the decoder once.
func (j *exportJob) release() {
	j.cancel()
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.released {
		return
	}
	j.released = true
	releaseDecoder(j.dec)
	j.dec = nil
}
