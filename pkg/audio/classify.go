package audio

// DefaultBucketCount is the number of amplitude buckets exposed to live
// metering views.
const DefaultBucketCount = 30

// Classification is the amplitude summary of a single frame.
type Classification struct {
	// Average is the mean absolute sample value across the whole frame.
	Average float32

	// Buckets holds the mean absolute value of each of N equal-width,
	// contiguous index ranges. The last range absorbs the remainder.
	Buckets []float32
}

// Classify computes the average and per-bucket amplitude of frame. An empty
// frame yields zero values. A non-positive bucket count falls back to
// [DefaultBucketCount].
func Classify(frame []float32, buckets int) Classification {
	if buckets <= 0 {
		buckets = DefaultBucketCount
	}
	c := Classification{Buckets: make([]float32, buckets)}

	var total float32
	for _, s := range frame {
		total += abs32(s)
	}
	c.Average = total / float32(max(len(frame), 1))

	width := len(frame) / buckets
	for b := range buckets {
		start := b * width
		end := start + width
		if b == buckets-1 {
			end = len(frame)
		}
		var sum float32
		for _, s := range frame[start:end] {
			sum += abs32(s)
		}
		c.Buckets[b] = sum / float32(max(end-start, 1))
	}
	return c
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
