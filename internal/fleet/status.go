package fleet

// ClassifyStatus derives a device's activity state from its reported speed.
// Offline is intentionally outside this function's range: it is owned by
// bulk sync, which classifies devices absent from the roster.
func ClassifyStatus(speed float64) Status {
	if speed > 0 {
		return StatusActive
	}
	return StatusIdle
}
