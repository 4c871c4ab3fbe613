package caption

// Direction buckets an object's horizontal position into thirds of the
// frame. The bbox is [x1, y1, x2, y2] in pixels.
func Direction(bbox []float64, frameWidth float64) string {
	if len(bbox) < 4 || frameWidth <= 0 {
		return "center"
	}
	centerX := (bbox[0] + bbox[2]) / 2
	switch {
	case centerX < frameWidth/3:
		return "left"
	case centerX > 2*frameWidth/3:
		return "right"
	default:
		return "center"
	}
}

// EstimateDistance approximates an object's distance in meters from its
// bounding box. Objects lower in the frame and with taller boxes read
// as closer. The result is clamped to [0.5, 10] meters.
func EstimateDistance(bbox []float64, frameHeight float64) float64 {
	if len(bbox) < 4 || frameHeight <= 0 {
		return 2.0
	}
	boxHeight := bbox[3] - bbox[1]
	relHeight := boxHeight / frameHeight
	yPos := (bbox[1] + bbox[3]) / 2 / frameHeight

	distance := (1.0 - yPos) * 5.0
	if relHeight > 0.5 {
		distance *= 0.5
	} else if relHeight > 0.25 {
		distance *= 0.75
	}

	if distance < 0.5 {
		return 0.5
	}
	if distance > 10.0 {
		return 10.0
	}
	return distance
}
