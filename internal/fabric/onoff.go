package fabric

import "net/netip"

// onOffApp sends fixed-size datagrams at a constant rate while "on". The first
// packet leaves one packet interval after the start, matching a CBR source that
// has to fill its first packet before sending it.
type onOffApp struct {
	net    *AdhocNetwork
	node   NodeID
	local  netip.AddrPort
	remote netip.AddrPort
	cfg    SenderConfig

	running bool
	// gen invalidates events queued by an earlier Start once Stop has run.
	gen  uint64
	sent int
}

func (a *onOffApp) interval() float64 {
	return float64(a.cfg.PacketSize*8) / a.cfg.DataRateBps
}

// Start schedules the application to begin at the absolute time at.
func (a *onOffApp) Start(at float64) error {
	return a.net.clock.ScheduleAt(at, func() {
		if a.running {
			return
		}
		a.running = true
		a.gen++
		a.beginOn(a.gen, a.net.clock.Now())
	})
}

// Stop schedules the application to stop at the absolute time at.
func (a *onOffApp) Stop(at float64) error {
	return a.net.clock.ScheduleAt(at, func() {
		a.running = false
		a.gen++
	})
}

func (a *onOffApp) beginOn(gen uint64, onStart float64) {
	onEnd := onStart + a.cfg.OnTime
	a.scheduleNext(gen, onStart+a.interval(), onEnd)
}

func (a *onOffApp) scheduleNext(gen uint64, at, onEnd float64) {
	if at > onEnd {
		off := onEnd + a.cfg.OffTime
		_ = a.net.clock.ScheduleAt(off, func() {
			if a.gen != gen {
				return
			}
			a.beginOn(gen, off)
		})
		return
	}
	_ = a.net.clock.ScheduleAt(at, func() {
		if a.gen != gen {
			return
		}
		a.sent++
		a.net.send(a.node, a.local, a.remote, a.cfg.PacketSize)
		a.scheduleNext(gen, at+a.interval(), onEnd)
	})
}
