package device

// extendClock extends a wrapping 32-bit microsecond device counter into a
// monotonically non-decreasing 64-bit nanosecond timeline: on the first
// sample it initializes to deviceTs*1000; thereafter it adds (deviceTs -
// lastDeviceTs) * 1000 using unsigned 32-bit subtraction so a counter
// wrap is handled transparently.
func extendClock(haveClock *bool, lastDeviceTs *uint32, deviceTimeNs uint64, deviceTs uint32) uint64 {
	if !*haveClock {
		*haveClock = true
		*lastDeviceTs = deviceTs
		return uint64(deviceTs) * 1000
	}

	delta := deviceTs - *lastDeviceTs // unsigned 32-bit subtraction, wraps correctly
	*lastDeviceTs = deviceTs
	return deviceTimeNs + uint64(delta)*1000
}
