package world

type rateWindow struct {
	StartTick uint64
	Window    uint64
	Count     int
	Max       int
}

// allow counts one attempt of kind against a fixed window of ticks. When the
// window is exhausted it returns the ticks left until it resets.
func (c *clientState) allow(kind string, nowTick uint64, window int, max int) (ok bool, cooldownTicks uint64) {
	if window <= 0 || max <= 0 {
		return true, 0
	}
	rw, ok := c.rl[kind]
	if !ok {
		rw = &rateWindow{StartTick: nowTick}
		c.rl[kind] = rw
	}
	rw.Window = uint64(window)
	rw.Max = max
	if nowTick-rw.StartTick >= rw.Window {
		rw.StartTick = nowTick
		rw.Count = 0
	}
	rw.Count++
	if rw.Count <= rw.Max {
		return true, 0
	}
	return false, (rw.StartTick + rw.Window) - nowTick
}
