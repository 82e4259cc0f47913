package footprint

// NormalizeRotation folds r into the quarter-turn index that View.Center and
// View.ToTemplate switch on, so rotations from commands, records and snapshots
// all land on one of the four cases. Values beyond +-3 that are multiples of
// 90 are read as degrees.
func NormalizeRotation(r int) int {
	if (r > 3 || r < -3) && r%90 == 0 {
		r /= 90
	}
	return ((r % 4) + 4) % 4
}

// YawDegrees is the clockwise yaw a renderer should apply for rot.
func YawDegrees(rot int) int {
	return 90 * NormalizeRotation(rot)
}
