// Package scheduler runs the relay's periodic maintenance jobs (digest sweeps,
// suppression reaping, directory reloads) on robfig/cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "notifyrelay/pkg/logx"
)

// Job is one periodic task. A run that is still in progress when the next
// tick arrives causes that tick to be skipped.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

type Config struct {
	// Timezone is an IANA name used for wall-clock cron specs; empty means UTC.
	Timezone string
}

type JobStats struct {
	Name     string
	Spec     string
	Runs     uint64
	Skipped  uint64
	Failures uint64
	LastErr  string
	LastRun  time.Time
	Next     time.Time
}

type job struct {
	Job
	spec    string
	entryID cron.EntryID

	running  atomic.Bool
	runs     atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64

	mu      sync.Mutex
	lastErr string
	lastRun time.Time
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	jobs   []*job
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log.With(logx.String("comp", "scheduler")),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Add registers a job. Jobs added after Start are scheduled immediately.
func (s *Service) Add(j Job) error {
	if strings.TrimSpace(j.Name) == "" || j.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a run func")
	}
	spec, err := Normalize(j.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", j.Name, err)
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("scheduler: job %s: %w", j.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.jobs {
		if existing.Name == j.Name {
			return fmt.Errorf("scheduler: duplicate job %s", j.Name)
		}
	}
	jb := &job{Job: j, spec: spec}
	s.jobs = append(s.jobs, jb)
	if s.c != nil {
		return s.addCronLocked(jb)
	}
	return nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.startLocked()
}

func (s *Service) startLocked() {
	loc := s.locationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, j := range s.jobs {
		if err := s.addCronLocked(j); err != nil {
			s.log.Warn("job not scheduled", logx.String("job", j.Name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Apply restarts the cron loop when the time zone changes.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || !changed {
		return
	}
	s.c.Stop()
	s.startLocked()
}

func (s *Service) locationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

func (s *Service) addCronLocked(j *job) error {
	id, err := s.c.AddFunc(j.spec, func() { s.runJob(j) })
	if err != nil {
		return err
	}
	j.entryID = id
	return nil
}

func (s *Service) runJob(j *job) {
	if !j.running.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		s.log.Debug("job still running, tick skipped", logx.String("job", j.Name))
		return
	}
	defer j.running.Store(false)
	s.run(j)
}

func (s *Service) run(j *job) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx := parent
	var cancel context.CancelFunc
	if j.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, j.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return j.Run(ctx)
	}()
	j.runs.Add(1)
	j.mu.Lock()
	j.lastRun = start
	j.lastErr = ""
	if err != nil {
		j.lastErr = err.Error()
	}
	j.mu.Unlock()
	if err != nil {
		j.failures.Add(1)
		s.log.Warn("job failed", logx.String("job", j.Name), logx.Duration("took", time.Since(start)), logx.Err(err))
	}
}

// Trigger runs the named job once, respecting the overlap guard.
func (s *Service) Trigger(name string) bool {
	s.mu.Lock()
	var found *job
	for _, j := range s.jobs {
		if j.Name == name {
			found = j
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return false
	}
	s.runJob(found)
	return true
}

func (s *Service) Snapshot() []JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStats, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStats{
			Name:     j.Name,
			Spec:     j.spec,
			Runs:     j.runs.Load(),
			Skipped:  j.skipped.Load(),
			Failures: j.failures.Load(),
		}
		j.mu.Lock()
		st.LastErr, st.LastRun = j.lastErr, j.lastRun
		j.mu.Unlock()
		if s.c != nil && j.entryID != 0 {
			st.Next = s.c.Entry(j.entryID).Next
		}
		out = append(out, st)
	}
	return out
}

// Stop halts triggering and waits for running jobs or ctx, whichever ends first.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}
