package engine

// Capacity holds the room-independent network constants, in Mbit/s.
type Capacity struct {
	NetworkInMbit  float64
	NetworkOutMbit float64
	MaxAudioMbit   float64
}

// BitrateAllocator computes the per-room video bitrate ceiling from the
// capacity constants and the live stream population. It is recomputed on
// every producer/consumer count change.
type BitrateAllocator struct {
	cap Capacity
}

func NewBitrateAllocator(c Capacity) *BitrateAllocator {
	return &BitrateAllocator{cap: c}
}

// Recalculate returns the new video ceiling in bits per second. ok is false
// when there is nothing to broadcast: no video producer is active, or the
// computed ceiling is not positive. A room with no video producers keeps its
// previously cached value for when video resumes.
//
// With zero video consumers the divisor is clamped to 1, so a lone producer
// is provisioned as if one consumer existed. Inherited behavior, kept as is.
func (a *BitrateAllocator) Recalculate(c Counts) (bps int64, ok bool) {
	if c.VideoProducers <= 0 {
		return 0, false
	}

	const mbit = 1e6
	audioShareIn := a.cap.MaxAudioMbit * mbit * float64(c.AudioProducers)
	audioShareOut := a.cap.MaxAudioMbit * mbit * float64(c.AudioConsumers)
	availIn := a.cap.NetworkInMbit*mbit - audioShareIn
	availOut := a.cap.NetworkOutMbit*mbit - audioShareOut

	consumers := c.VideoConsumers
	if consumers < 1 {
		consumers = 1
	}

	perProducer := availIn / float64(c.VideoProducers)
	perConsumer := availOut / float64(consumers)
	ceiling := perProducer
	if perConsumer < ceiling {
		ceiling = perConsumer
	}
	if ceiling <= 0 {
		return 0, false
	}
	return int64(ceiling), true
}
