package p2p

import (
	"sort"
	"time"
)

// Scheduler runs the two independent periodic tasks of §4.5/§4.6: choke
// reselection by measured download rate, and optimistic unchoke rotation.
// Both mutate peer_choked through the emit-only-on-change helpers on
// PeerLink, so the two timers can never double-choke a peer (§9).
type Scheduler struct {
	swarm *Swarm
	k     int

	unchokeInterval    time.Duration
	optimisticInterval time.Duration

	stop chan struct{}
}

// NewScheduler builds a scheduler bound to swarm with preferred-neighbor
// count k and the two tick intervals from RunParameters.
func NewScheduler(swarm *Swarm, k int, unchokeInterval, optimisticInterval time.Duration) *Scheduler {
	return &Scheduler{
		swarm:              swarm,
		k:                  k,
		unchokeInterval:    unchokeInterval,
		optimisticInterval: optimisticInterval,
		stop:               make(chan struct{}),
	}
}

// Start launches both periodic tasks as independent goroutines.
func (s *Scheduler) Start() {
	go s.runChoke()
	go s.runOptimistic()
}

// Stop halts both periodic tasks.
func (s *Scheduler) Stop() { close(s.stop) }

func (s *Scheduler) runChoke() {
	t := time.NewTicker(s.unchokeInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.tickChoke()
		}
	}
}

func (s *Scheduler) runOptimistic() {
	t := time.NewTicker(s.optimisticInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.tickOptimistic()
		}
	}
}

type candidate struct {
	id   int
	rate int64
}

// tickChoke implements §4.5 verbatim: rank interested peers by measured
// download rate (uniform random when seeding), select the top k, unchoke
// the union of that set with the optimistic slot, choke everyone else.
func (s *Scheduler) tickChoke() {
	links := s.swarm.Links()

	var interested []candidate
	for _, l := range links {
		if l.PeerInterested() {
			interested = append(interested, candidate{id: l.ID, rate: l.DownloadRate()})
		}
	}

	if len(interested) == 0 {
		// Nothing to reselect; still reset rate counters (§4.5 step 6), but
		// leave the preferred set and choke state untouched (step 2).
		for _, l := range links {
			l.ResetRate()
		}
		return
	}

	if s.swarm.Store().Complete() {
		shuffleCandidates(interested)
	} else {
		sort.SliceStable(interested, func(i, j int) bool {
			return interested[i].rate > interested[j].rate
		})
	}

	n := s.k
	if n > len(interested) {
		n = len(interested)
	}

	newPreferred := make([]int, 0, n)
	for i := 0; i < n; i++ {
		newPreferred = append(newPreferred, interested[i].id)
	}
	preferredSet := make(map[int]bool, n)
	for _, id := range newPreferred {
		preferredSet[id] = true
	}

	optimisticID, hasOptimistic := s.swarm.Optimistic()

	for _, l := range links {
		shouldUnchoke := preferredSet[l.ID] || (hasOptimistic && l.ID == optimisticID)
		if shouldUnchoke && l.PeerChoked() {
			_ = l.SendUnchoke()
		} else if !shouldUnchoke && !l.PeerChoked() {
			_ = l.SendChoke()
		}
	}

	s.swarm.SetPreferred(newPreferred)
	for _, l := range links {
		l.ResetRate()
	}
	s.swarm.log.PreferredNeighborsChanged(newPreferred)
}

// tickOptimistic implements §4.6 verbatim.
func (s *Scheduler) tickOptimistic() {
	links := s.swarm.Links()
	preferred := s.swarm.Preferred()

	var candidates []*PeerLink
	for _, l := range links {
		if l.PeerChoked() && l.PeerInterested() && !preferred[l.ID] {
			candidates = append(candidates, l)
		}
	}

	if len(candidates) == 0 {
		s.swarm.ClearOptimistic()
		return
	}

	idx, err := randomChoice(len(candidates))
	if err != nil {
		return
	}
	chosen := candidates[idx]

	current, has := s.swarm.Optimistic()
	if has && current == chosen.ID {
		return
	}

	if has && !preferred[current] {
		if l, ok := s.swarm.Link(current); ok {
			_ = l.SendChoke()
		}
	}

	s.swarm.SetOptimistic(chosen.ID)
	_ = chosen.SendUnchoke()
	s.swarm.log.OptimisticNeighborChanged(chosen.ID)
}

func shuffleCandidates(c []candidate) {
	for i := len(c) - 1; i > 0; i-- {
		j, err := randomChoice(i + 1)
		if err != nil {
			return
		}
		c[i], c[j] = c[j], c[i]
	}
}
