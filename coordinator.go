package scenemix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// coordinator owns all structural pipeline mutation. One mutex serializes
// apply decisions, fast-path property batches and instance swaps; rebuild
// construction (graph build plus preroll) runs on its own goroutine outside
// the lock so applies that the current graph can satisfy never wait behind
// it. The current-instance pointer is atomic because the output side reads
// it without the lock.
//
// Rebuilds are single-flight. While one is in flight, a request covered by
// its target just replaces the pending scene (latest request wins); a
// request needing more sources folds into one follow-up job that starts
// after the in-flight build completes. Targets grow by union and never
// shrink, except through reclaimIdle.
type coordinator struct {
	comp    Compositor
	pads    *padController
	metrics *Metrics
	onAlert func(Alert)

	ctx    context.Context
	cancel context.CancelFunc

	prerollCeiling time.Duration
	drainGrace     time.Duration
	breakerLimit   int

	current atomic.Pointer[instance]

	mu          sync.Mutex
	generation  uint64
	activeScene Scene
	inflight    *rebuildJob
	followUp    *rebuildJob
	draining    map[string]*instance
	lastUsed    map[string]time.Time
	failures    int
	breakerOpen bool
	closed      bool

	applies        uint64
	fastPathCount  uint64
	rebuilds       uint64
	failedRebuilds uint64

	wg sync.WaitGroup
}

// rebuildJob is one pending or in-flight rebuild: the pad set the new graph
// must cover, the scene to commit once it is ready, and every ticket waiting
// on the outcome. scene and tickets are mutated under the coordinator mutex
// while the job is queued or in flight; target is fixed once the job starts.
type rebuildJob struct {
	target    map[string]struct{}
	scene     Scene
	reason    string
	reclaimed []string
	tickets   []*ApplyTicket
}

const (
	reasonScene    = "scene_requires_sources"
	reasonProperty = "property_failure"
	reasonReclaim  = "reclaim_idle_pads"
)

func newCoordinator(comp Compositor, pads *padController, metrics *Metrics, cfg Config) *coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &coordinator{
		comp:           comp,
		pads:           pads,
		metrics:        metrics,
		onAlert:        cfg.OnAlert,
		ctx:            ctx,
		cancel:         cancel,
		prerollCeiling: cfg.PrerollCeiling,
		drainGrace:     cfg.DrainGrace,
		breakerLimit:   cfg.BreakerThreshold,
		draining:       make(map[string]*instance),
		lastUsed:       make(map[string]time.Time),
	}
}

// needsRebuild reports whether scene can land on the current graph without
// structural change.
func (c *coordinator) needsRebuild(scene Scene) bool {
	cur := c.current.Load()
	return cur == nil || cur.State() != StateLive || !cur.covers(scene)
}

// apply routes one validated scene request. Fast path requests complete
// before it returns; rebuild requests return a pending ticket.
func (c *coordinator) apply(scene Scene, requestedAt time.Time) (*ApplyTicket, error) {
	ticket := newTicket(scene.ID)
	ticket.requestedAt = requestedAt

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, &FatalError{Reason: "mixer is closed", Err: ErrMixerClosed}
	}
	c.applies++

	cur := c.current.Load()
	if cur != nil && cur.State() == StateLive && cur.covers(scene) {
		err := c.fastPathLocked(cur, scene, ticket)
		if err == nil {
			return ticket, nil
		}
		// Two failed batches on a graph that should accept them means the
		// graph is in a state property writes cannot fix. Rebuild it.
		slog.Warn("scenemix: property apply failed twice, forcing rebuild",
			"scene", scene.ID, "error", err)
		c.metrics.IncError("property")
		return c.enqueueRebuildLocked(scene, ticket, reasonProperty)
	}
	return c.enqueueRebuildLocked(scene, ticket, reasonScene)
}

// fastPathLocked commits scene onto the live instance: one property batch
// per pad, retried once on failure. Re-applying the scene already in effect
// skips the writes entirely.
func (c *coordinator) fastPathLocked(cur *instance, scene Scene, ticket *ApplyTicket) error {
	if c.activeScene.ID == scene.ID && slotsEqual(c.activeScene.Slots, scene.Slots) {
		c.fastPathCount++
		c.touchLocked(scene)
		c.notePendingSceneLocked(scene)
		ticket.resolve(FastPath, cur.generation)
		c.metrics.ObserveApply(FastPath, time.Since(ticket.requestedAt))
		return nil
	}

	err := c.pads.apply(cur, scene)
	if err != nil {
		slog.Warn("scenemix: property batch failed, retrying once",
			"scene", scene.ID, "error", err)
		err = c.pads.apply(cur, scene)
	}
	if err != nil {
		return err
	}

	c.activeScene = scene
	c.fastPathCount++
	c.touchLocked(scene)
	c.notePendingSceneLocked(scene)
	ticket.resolve(FastPath, cur.generation)
	c.metrics.ObserveApply(FastPath, time.Since(ticket.requestedAt))
	return nil
}

// notePendingSceneLocked keeps queued rebuilds converging on the newest
// request. A fast-path apply that lands while a rebuild is in flight becomes
// that rebuild's pending scene, so the swap re-commits what the operator
// last asked for instead of resurrecting an older scene. If the pending
// job's target cannot cover the scene (a reclaim shrank it), a follow-up job
// with the needed sources is queued instead.
func (c *coordinator) notePendingSceneLocked(scene Scene) {
	required := scene.SourceIDs()

	if c.followUp != nil {
		for _, id := range required {
			c.followUp.target[id] = struct{}{}
		}
		c.followUp.scene = scene
		return
	}
	if c.inflight == nil {
		return
	}
	if coveredBy(required, c.inflight.target) {
		c.inflight.scene = scene
		return
	}
	target := make(map[string]struct{}, len(c.inflight.target)+len(required))
	for id := range c.inflight.target {
		target[id] = struct{}{}
	}
	for _, id := range required {
		target[id] = struct{}{}
	}
	c.followUp = &rebuildJob{
		target: target,
		scene:  scene,
		reason: reasonScene,
	}
}

// enqueueRebuildLocked folds the request into the single-flight rebuild
// machinery: start a job, update the in-flight job's pending scene, or grow
// the follow-up job.
func (c *coordinator) enqueueRebuildLocked(scene Scene, ticket *ApplyTicket, reason string) (*ApplyTicket, error) {
	if c.breakerOpen {
		c.metrics.IncError("breaker")
		return nil, fmt.Errorf("%w (%d consecutive failures, reset required)",
			ErrRebuildsSuspended, c.failures)
	}

	required := scene.SourceIDs()

	if c.inflight == nil {
		target := make(map[string]struct{})
		if cur := c.current.Load(); cur != nil {
			for id := range cur.fingerprint {
				target[id] = struct{}{}
			}
		}
		for _, id := range required {
			target[id] = struct{}{}
		}
		job := &rebuildJob{
			target:  target,
			scene:   scene,
			reason:  reason,
			tickets: []*ApplyTicket{ticket},
		}
		c.inflight = job
		c.generation++
		c.wg.Add(1)
		go c.runRebuild(job, c.generation)
		return ticket, nil
	}

	if c.followUp == nil && coveredBy(required, c.inflight.target) {
		// The build under way already covers this scene. Latest request
		// wins the pending-scene slot.
		c.inflight.scene = scene
		c.inflight.tickets = append(c.inflight.tickets, ticket)
		return ticket, nil
	}

	if c.followUp == nil {
		target := make(map[string]struct{}, len(c.inflight.target)+len(required))
		for id := range c.inflight.target {
			target[id] = struct{}{}
		}
		c.followUp = &rebuildJob{
			target: target,
			reason: reason,
		}
	}
	for _, id := range required {
		c.followUp.target[id] = struct{}{}
	}
	c.followUp.scene = scene
	c.followUp.tickets = append(c.followUp.tickets, ticket)
	return ticket, nil
}

// runRebuild constructs, prerolls and swaps in one new instance. It runs
// outside the coordinator mutex; only the completion step takes it.
func (c *coordinator) runRebuild(job *rebuildJob, gen uint64) {
	defer c.wg.Done()

	start := time.Now()
	target := sortedSet(job.target)
	slog.Info("scenemix: rebuild started",
		"generation", gen, "target", target, "reason", job.reason)

	inst := newInstance(gen)

	gid, err := c.comp.CreateGraph(c.ctx)
	if err != nil {
		c.finishFailure(job, inst, "create", err)
		return
	}
	inst.graph = gid

	for _, sourceID := range target {
		pid, err := c.comp.AttachPad(gid, sourceID)
		if err != nil {
			c.finishFailure(job, inst, "attach", fmt.Errorf("source %q: %w", sourceID, err))
			return
		}
		inst.pads[sourceID] = pid
		inst.fingerprint[sourceID] = struct{}{}
	}

	if err := inst.setState(StatePrerolling); err != nil {
		c.finishFailure(job, inst, "preroll", err)
		return
	}
	prerollStart := time.Now()
	prerollCtx, cancel := context.WithTimeout(c.ctx, c.prerollCeiling)
	err = c.comp.Preroll(prerollCtx, gid)
	cancel()
	if err != nil {
		c.finishFailure(job, inst, "preroll", err)
		return
	}
	c.metrics.ObservePreroll(time.Since(prerollStart))

	c.finishSuccess(job, inst, start)
}

// finishSuccess commits the pending scene on the new instance, swaps it in
// as the single live instance and drains the old one. The previous graph
// keeps producing output until the swap, so the output never blanks.
func (c *coordinator) finishSuccess(job *rebuildJob, inst *instance, start time.Time) {
	c.mu.Lock()

	if c.closed {
		c.inflight = nil
		tickets := job.tickets
		c.mu.Unlock()
		inst.setState(StateFailed)
		if err := c.comp.Teardown(inst.graph); err != nil {
			slog.Warn("scenemix: teardown after close failed", "error", err)
		}
		failTickets(tickets, &FatalError{Reason: "mixer closed during rebuild", Err: ErrMixerClosed})
		return
	}

	scene := job.scene
	if err := c.pads.apply(inst, scene); err != nil {
		post := c.failLocked(job, inst, "apply", err)
		c.mu.Unlock()
		c.finishFailurePost(inst, post)
		return
	}

	if err := c.comp.SwapActive(inst.graph); err != nil {
		post := c.failLocked(job, inst, "swap", err)
		c.mu.Unlock()
		c.finishFailurePost(inst, post)
		return
	}
	if err := inst.setState(StateLive); err != nil {
		post := c.failLocked(job, inst, "swap", err)
		c.mu.Unlock()
		c.finishFailurePost(inst, post)
		return
	}

	old := c.current.Load()
	c.current.Store(inst)
	c.activeScene = scene
	c.touchLocked(scene)
	c.rebuilds++
	c.failures = 0

	if old != nil {
		if err := old.setState(StateDraining); err == nil {
			c.draining[old.id] = old
			time.AfterFunc(c.drainGrace, func() { c.destroyDrained(old) })
		}
	}

	tickets := job.tickets
	reclaimed := job.reclaimed
	c.inflight = nil
	next, nextGen := c.promoteFollowUpLocked()
	c.mu.Unlock()

	for _, t := range tickets {
		t.resolve(Rebuilt, inst.generation)
		c.metrics.ObserveApply(Rebuilt, time.Since(t.requestedAt))
	}
	c.metrics.ObserveRebuild("success")
	c.metrics.SetFingerprintSize(len(inst.fingerprint))
	c.metrics.SetGeneration(inst.generation)

	slog.Info("scenemix: rebuild complete",
		"generation", inst.generation,
		"scene", scene.ID,
		"fingerprint", inst.fingerprintList(),
		"duration_ms", time.Since(start).Milliseconds())

	if len(reclaimed) > 0 {
		c.metrics.AddReclaimed(len(reclaimed))
		c.alert(Alert{
			Kind:    AlertPadsReclaimed,
			Message: fmt.Sprintf("reclaimed %d idle pad(s)", len(reclaimed)),
			SceneID: scene.ID,
			Sources: reclaimed,
		})
	}

	if next != nil {
		go c.runRebuild(next, nextGen)
	}
}

// failurePost carries everything the failure path does after releasing the
// mutex: the error handed to tickets, alerts to emit, and a promoted
// follow-up job to start.
type failurePost struct {
	tickets  []*ApplyTicket
	err      error
	timeout  bool
	tripped  bool
	closed   bool
	sceneID  string
	target   []string
	next     *rebuildJob
	nextGen  uint64
	failures int
}

// failLocked records one failed rebuild under the mutex and decides what
// happens next: breaker accounting, ticket error selection and follow-up
// promotion. The caller tears the graph down and emits alerts after
// unlocking.
func (c *coordinator) failLocked(job *rebuildJob, inst *instance, stage string, cause error) failurePost {
	inst.setState(StateFailed)

	post := failurePost{
		tickets: job.tickets,
		sceneID: job.scene.ID,
		target:  sortedSet(job.target),
		closed:  c.closed,
		timeout: errors.Is(cause, context.DeadlineExceeded),
	}

	c.inflight = nil

	if post.closed {
		post.err = &FatalError{Reason: "mixer closed during rebuild", Err: ErrMixerClosed}
		return post
	}

	c.failedRebuilds++
	c.failures++
	post.failures = c.failures
	if c.breakerLimit > 0 && !c.breakerOpen && c.failures >= c.breakerLimit {
		c.breakerOpen = true
		post.tripped = true
	}
	post.err = &TransientBuildError{
		Stage:   stage,
		SceneID: job.scene.ID,
		Target:  post.target,
		Err:     cause,
	}

	if c.breakerOpen && c.followUp != nil {
		// The breaker suspends everything queued behind the failure too.
		failTickets(c.followUp.tickets, fmt.Errorf("%w (%d consecutive failures, reset required)",
			ErrRebuildsSuspended, c.failures))
		c.followUp = nil
	}
	post.next, post.nextGen = c.promoteFollowUpLocked()
	return post
}

// finishFailure handles a rebuild that died during construction or preroll:
// tear down whatever was built, then run the locked bookkeeping.
func (c *coordinator) finishFailure(job *rebuildJob, inst *instance, stage string, cause error) {
	c.mu.Lock()
	post := c.failLocked(job, inst, stage, cause)
	c.mu.Unlock()
	c.finishFailurePost(inst, post)
}

func (c *coordinator) finishFailurePost(inst *instance, post failurePost) {
	if inst.graph != "" {
		if err := c.comp.Teardown(inst.graph); err != nil {
			slog.Warn("scenemix: teardown of failed instance returned error",
				"instance", inst.id, "error", err)
		}
	}

	failTickets(post.tickets, post.err)

	if post.closed {
		return
	}

	result := "failed"
	if post.timeout {
		result = "timeout"
	}
	c.metrics.ObserveRebuild(result)
	c.metrics.IncError("build")

	slog.Error("scenemix: rebuild failed",
		"generation", inst.generation,
		"scene", post.sceneID,
		"target", post.target,
		"consecutive_failures", post.failures,
		"error", post.err)

	if post.timeout {
		c.alert(Alert{
			Kind:    AlertPrerollTimeout,
			Message: fmt.Sprintf("preroll did not complete within %s", c.prerollCeiling),
			SceneID: post.sceneID,
			Sources: post.target,
		})
	}
	c.alert(Alert{
		Kind:    AlertRebuildFailed,
		Message: post.err.Error(),
		SceneID: post.sceneID,
		Sources: post.target,
	})
	if post.tripped {
		c.metrics.SetBreakerOpen(true)
		c.alert(Alert{
			Kind: AlertBreakerOpen,
			Message: fmt.Sprintf("circuit breaker open after %d consecutive rebuild failures",
				post.failures),
			SceneID: post.sceneID,
		})
	}

	if post.next != nil {
		go c.runRebuild(post.next, post.nextGen)
	}
}

// promoteFollowUpLocked moves the queued follow-up job, if any, into the
// in-flight slot and hands back the goroutine start parameters.
func (c *coordinator) promoteFollowUpLocked() (*rebuildJob, uint64) {
	if c.followUp == nil {
		return nil, 0
	}
	next := c.followUp
	c.followUp = nil
	c.inflight = next
	c.generation++
	c.wg.Add(1)
	return next, c.generation
}

// destroyDrained runs when a drained instance's grace period expires.
func (c *coordinator) destroyDrained(old *instance) {
	c.mu.Lock()
	if _, ok := c.draining[old.id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.draining, old.id)
	c.mu.Unlock()

	old.setState(StateDestroyed)
	if err := c.comp.Teardown(old.graph); err != nil {
		slog.Warn("scenemix: teardown of drained instance returned error",
			"instance", old.id, "error", err)
	}
	slog.Debug("scenemix: drained instance destroyed",
		"instance", old.id, "generation", old.generation)
}

// touchLocked records scene's sources as recently used, for idle-pad
// reclamation.
func (c *coordinator) touchLocked(scene Scene) {
	now := time.Now()
	for _, id := range scene.SourceIDs() {
		c.lastUsed[id] = now
	}
}

// reclaimIdle shrinks the pad set through the ordinary rebuild path. A
// source's pad survives when the active scene references it, when it appears
// in keepLive, or when a scene used it within maxIdle. Refuses to run while
// another rebuild is in flight; reclamation is maintenance and never
// preempts real work.
func (c *coordinator) reclaimIdle(maxIdle time.Duration, keepLive []string) ([]string, *ApplyTicket, error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil, nil, &FatalError{Reason: "mixer is closed", Err: ErrMixerClosed}
	}
	if c.breakerOpen {
		c.mu.Unlock()
		return nil, nil, ErrRebuildsSuspended
	}
	if c.inflight != nil {
		c.mu.Unlock()
		return nil, nil, ErrRebuildInFlight
	}
	cur := c.current.Load()
	if cur == nil {
		c.mu.Unlock()
		return nil, nil, nil
	}

	keep := make(map[string]struct{})
	for _, id := range c.activeScene.SourceIDs() {
		keep[id] = struct{}{}
	}
	for _, id := range keepLive {
		keep[id] = struct{}{}
	}
	cutoff := time.Now().Add(-maxIdle)
	for id, used := range c.lastUsed {
		if used.After(cutoff) {
			keep[id] = struct{}{}
		}
	}

	target := make(map[string]struct{}, len(keep))
	var removed []string
	for id := range cur.fingerprint {
		if _, ok := keep[id]; ok {
			target[id] = struct{}{}
		} else {
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		c.mu.Unlock()
		return nil, nil, nil
	}
	sort.Strings(removed)

	ticket := newTicket(c.activeScene.ID)
	job := &rebuildJob{
		target:    target,
		scene:     c.activeScene.clone(),
		reason:    reasonReclaim,
		reclaimed: removed,
		tickets:   []*ApplyTicket{ticket},
	}
	c.inflight = job
	c.generation++
	gen := c.generation
	c.wg.Add(1)
	c.mu.Unlock()

	slog.Info("scenemix: reclaiming idle pads", "removed", removed, "max_idle", maxIdle)
	go c.runRebuild(job, gen)
	return removed, ticket, nil
}

// resetBreaker closes the failure circuit breaker and clears the counter.
func (c *coordinator) resetBreaker() {
	c.mu.Lock()
	was := c.breakerOpen
	c.breakerOpen = false
	c.failures = 0
	c.mu.Unlock()

	if was {
		c.metrics.SetBreakerOpen(false)
		slog.Info("scenemix: circuit breaker reset")
		c.alert(Alert{
			Kind:    AlertBreakerReset,
			Message: "circuit breaker reset by operator",
		})
	}
}

func (c *coordinator) status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		ActiveSceneID:       c.activeScene.ID,
		PipelineStateName:   "NONE",
		BreakerOpen:         c.breakerOpen,
		ConsecutiveFailures: c.failures,
		Applies:             c.applies,
		FastPathApplies:     c.fastPathCount,
		Rebuilds:            c.rebuilds,
		FailedRebuilds:      c.failedRebuilds,
		Closed:              c.closed,
	}
	if cur := c.current.Load(); cur != nil {
		st.Fingerprint = cur.fingerprintList()
		st.PipelineState = cur.State()
		st.PipelineStateName = cur.State().String()
		st.Generation = cur.generation
		st.PadCount = len(cur.pads)
	}
	if c.inflight != nil {
		st.RebuildInFlight = true
		st.InFlightTarget = sortedSet(c.inflight.target)
	}
	return st
}

// close shuts the coordinator down: no further applies, queued work failed,
// every graph torn down. The in-flight rebuild, if any, is cancelled through
// the coordinator context and observed on its way out.
func (c *coordinator) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()

	if c.followUp != nil {
		failTickets(c.followUp.tickets, &FatalError{Reason: "mixer is closed", Err: ErrMixerClosed})
		c.followUp = nil
	}

	var graphs []GraphID
	if cur := c.current.Load(); cur != nil {
		if cur.setState(StateDraining) == nil {
			cur.setState(StateDestroyed)
		}
		graphs = append(graphs, cur.graph)
		c.current.Store(nil)
	}
	for id, inst := range c.draining {
		delete(c.draining, id)
		inst.setState(StateDestroyed)
		graphs = append(graphs, inst.graph)
	}
	c.mu.Unlock()

	for _, gid := range graphs {
		if err := c.comp.Teardown(gid); err != nil {
			slog.Warn("scenemix: teardown during close returned error", "graph", gid, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("scenemix: rebuild goroutine did not exit before close timeout")
	}
	return nil
}

// alert stamps and dispatches one alert. Callbacks run on their own
// goroutine so a slow alert sink never blocks the control path.
func (c *coordinator) alert(a Alert) {
	a.At = time.Now()
	if c.onAlert != nil {
		go c.onAlert(a)
	}
}

func failTickets(tickets []*ApplyTicket, err error) {
	for _, t := range tickets {
		t.fail(err)
	}
}

// coveredBy reports whether every id in required is present in target.
func coveredBy(required []string, target map[string]struct{}) bool {
	for _, id := range required {
		if _, ok := target[id]; !ok {
			return false
		}
	}
	return true
}
