package p2p

import "time"

// RequestDriver continuously sweeps peer links, issuing at most one
// outstanding REQUEST per peer, per §4.4.
type RequestDriver struct {
	swarm *Swarm
	pace  time.Duration
	stop  chan struct{}
}

// NewRequestDriver builds a driver with the given inter-sweep pacing delay
// (≈100ms per §4.4).
func NewRequestDriver(swarm *Swarm, pace time.Duration) *RequestDriver {
	return &RequestDriver{swarm: swarm, pace: pace, stop: make(chan struct{})}
}

// Start launches the sweep loop.
func (d *RequestDriver) Start() { go d.run() }

// Stop halts the sweep loop.
func (d *RequestDriver) Stop() { close(d.stop) }

func (d *RequestDriver) run() {
	t := time.NewTicker(d.pace)
	defer t.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-t.C:
			d.sweep()
		}
	}
}

func (d *RequestDriver) sweep() {
	local := d.swarm.Store().Bitfield()

	for _, l := range d.swarm.Links() {
		if l.AmChoked() || !l.HasInterestingPieces(local) {
			d.swarm.ClearOutstanding(l.ID)
			continue
		}

		if _, inFlight := d.swarm.Outstanding(l.ID); inFlight {
			continue
		}

		wanted := l.WantedPieces(local)
		candidate := d.pickUnrequested(wanted)
		if candidate < 0 {
			continue
		}

		if err := l.Send(RequestMessage(candidate)); err != nil {
			continue
		}
		d.swarm.SetOutstanding(l.ID, candidate)
	}
}

// pickUnrequested chooses uniformly at random among wanted, skipping any
// piece already outstanding to another peer (best-effort global dedup,
// §4.4/§9). Returns -1 if every candidate is already spoken for.
func (d *RequestDriver) pickUnrequested(wanted []int) int {
	free := wanted[:0:0]
	for _, i := range wanted {
		if !d.swarm.IsRequestedElsewhere(i) {
			free = append(free, i)
		}
	}
	if len(free) == 0 {
		return -1
	}
	idx, err := randomChoice(len(free))
	if err != nil {
		return -1
	}
	return free[idx]
}
