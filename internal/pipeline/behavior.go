package pipeline

// Engagement levels derived from head pose. A proxy for whether the
// person is oriented toward the camera.
const (
	EngagementHigh   = "high"
	EngagementMedium = "medium"
	EngagementLow    = "low"
)

// mediumBand widens the high thresholds to the medium band: deviations
// between 1x and 1.5x the threshold are "medium", beyond that "low".
const mediumBand = 1.5

// ClassifyEngagement maps head pose angles to an engagement label using
// fixed angular thresholds. yawLimit is the magnitude (degrees) beyond
// which the person is looking away; pitchFloor is the (negative) pitch
// below which the person is looking down.
func ClassifyEngagement(pitch, yaw, yawLimit, pitchFloor float64) string {
	absYaw := yaw
	if absYaw < 0 {
		absYaw = -absYaw
	}
	if absYaw > yawLimit*mediumBand || pitch < pitchFloor*mediumBand {
		return EngagementLow
	}
	if absYaw > yawLimit || pitch < pitchFloor {
		return EngagementMedium
	}
	return EngagementHigh
}
