package scenemix

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StubCompositor is an in-memory Compositor for tests, development and
// dry-runs: no media stack required. It keeps every graph and pad as plain
// records, journals each structural call, and can inject failures and
// preroll delays on demand.
type StubCompositor struct {
	mu      sync.Mutex
	graphs  map[GraphID]*stubGraph
	pads    map[PadID]*stubPad
	active  GraphID
	journal []string

	prerollDelay time.Duration
	failCreate   int
	failAttach   int
	failPreroll  int
	failProps    int

	teardowns int

	building    int
	maxBuilding int
}

type stubGraph struct {
	id        GraphID
	pads      []PadID
	prerolled bool
	torn      bool
	settled   bool // build attempt concluded, building counter adjusted
}

type stubPad struct {
	graph    GraphID
	sourceID string
	props    PadProps
	writes   int
}

// NewStubCompositor creates an empty stub.
func NewStubCompositor() *StubCompositor {
	return &StubCompositor{
		graphs: make(map[GraphID]*stubGraph),
		pads:   make(map[PadID]*stubPad),
	}
}

// SetPrerollDelay makes every subsequent Preroll take d before succeeding.
// The delay honors the preroll context, so a delay beyond the caller's
// ceiling surfaces as context.DeadlineExceeded.
func (s *StubCompositor) SetPrerollDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prerollDelay = d
}

// FailNextCreate makes the next n CreateGraph calls fail.
func (s *StubCompositor) FailNextCreate(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate = n
}

// FailNextAttach makes the next n AttachPad calls fail.
func (s *StubCompositor) FailNextAttach(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAttach = n
}

// FailNextPreroll makes the next n Preroll calls fail.
func (s *StubCompositor) FailNextPreroll(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPreroll = n
}

// FailNextPropertyWrite makes the next n SetPadProperties calls fail.
func (s *StubCompositor) FailNextPropertyWrite(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failProps = n
}

func (s *StubCompositor) CreateGraph(ctx context.Context) (GraphID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCreate > 0 {
		s.failCreate--
		return "", fmt.Errorf("stub: create failure injected")
	}
	id := GraphID("graph-" + uuid.NewString()[:8])
	s.graphs[id] = &stubGraph{id: id}
	s.building++
	if s.building > s.maxBuilding {
		s.maxBuilding = s.building
	}
	s.journal = append(s.journal, fmt.Sprintf("create %s", id))
	return id, nil
}

func (s *StubCompositor) AttachPad(graph GraphID, sourceID string) (PadID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.graphs[graph]
	if !ok || g.torn {
		return "", fmt.Errorf("stub: unknown graph %s", graph)
	}
	if s.failAttach > 0 {
		s.failAttach--
		return "", fmt.Errorf("stub: attach failure injected")
	}
	id := PadID("pad-" + uuid.NewString()[:8])
	s.pads[id] = &stubPad{graph: graph, sourceID: sourceID}
	g.pads = append(g.pads, id)
	s.journal = append(s.journal, fmt.Sprintf("attach %s %s", graph, sourceID))
	return id, nil
}

func (s *StubCompositor) SetPadProperties(pad PadID, props PadProps) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pads[pad]
	if !ok {
		return fmt.Errorf("stub: unknown pad %s", pad)
	}
	if g, ok := s.graphs[p.graph]; !ok || g.torn {
		return fmt.Errorf("stub: pad %s belongs to a torn down graph", pad)
	}
	if s.failProps > 0 {
		s.failProps--
		return fmt.Errorf("stub: property failure injected")
	}
	p.props = props
	p.writes++
	return nil
}

func (s *StubCompositor) Preroll(ctx context.Context, graph GraphID) error {
	s.mu.Lock()
	g, ok := s.graphs[graph]
	if !ok || g.torn {
		s.mu.Unlock()
		return fmt.Errorf("stub: unknown graph %s", graph)
	}
	delay := s.prerollDelay
	inject := false
	if s.failPreroll > 0 {
		s.failPreroll--
		inject = true
	}
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			s.settle(g)
			return ctx.Err()
		}
	}
	if inject {
		s.settle(g)
		return fmt.Errorf("stub: preroll failure injected")
	}
	if err := ctx.Err(); err != nil {
		s.settle(g)
		return err
	}

	s.mu.Lock()
	g.prerolled = true
	s.settleLocked(g)
	s.journal = append(s.journal, fmt.Sprintf("preroll %s", graph))
	s.mu.Unlock()
	return nil
}

func (s *StubCompositor) settle(g *stubGraph) {
	s.mu.Lock()
	s.settleLocked(g)
	s.mu.Unlock()
}

// settleLocked ends g's build attempt in the concurrency bookkeeping. Safe
// to call more than once per graph.
func (s *StubCompositor) settleLocked(g *stubGraph) {
	if !g.settled {
		g.settled = true
		s.building--
	}
}

func (s *StubCompositor) SwapActive(graph GraphID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.graphs[graph]
	if !ok || g.torn {
		return fmt.Errorf("stub: unknown graph %s", graph)
	}
	if !g.prerolled {
		return fmt.Errorf("stub: graph %s was not prerolled", graph)
	}
	s.active = graph
	s.journal = append(s.journal, fmt.Sprintf("swap %s", graph))
	return nil
}

func (s *StubCompositor) Teardown(graph GraphID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.graphs[graph]
	if !ok {
		return fmt.Errorf("stub: unknown graph %s", graph)
	}
	if g.torn {
		return nil
	}
	g.torn = true
	s.settleLocked(g)
	if s.active == graph {
		s.active = ""
	}
	for _, pid := range g.pads {
		delete(s.pads, pid)
	}
	s.teardowns++
	s.journal = append(s.journal, fmt.Sprintf("teardown %s", graph))
	return nil
}

// ActiveGraph returns the graph currently routed to output.
func (s *StubCompositor) ActiveGraph() GraphID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// PadPropsFor returns the last committed properties for sourceID's pad on
// the active graph.
func (s *StubCompositor) PadPropsFor(sourceID string) (PadProps, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.pads {
		if p.graph == s.active && p.sourceID == sourceID {
			return p.props, true
		}
	}
	return PadProps{}, false
}

// PadWriteCount returns how many property batches have landed on sourceID's
// pad on the active graph.
func (s *StubCompositor) PadWriteCount(sourceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.pads {
		if p.graph == s.active && p.sourceID == sourceID {
			return p.writes
		}
	}
	return 0
}

// TeardownCount returns how many graphs have been torn down.
func (s *StubCompositor) TeardownCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teardowns
}

// MaxConcurrentBuilds returns the highest number of graphs that were ever
// under construction at once. Single-flight behavior keeps this at 1.
func (s *StubCompositor) MaxConcurrentBuilds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxBuilding
}

// Journal returns a copy of the structural call log, in order.
func (s *StubCompositor) Journal() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.journal))
	copy(out, s.journal)
	return out
}
