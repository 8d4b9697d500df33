package controller

import "github.com/pvcharge/pvcharge/internal/chargepoint"

// TargetAmperage maps forecasted excess solar watts onto the charger's
// supported amperage steps: round the ideal amperage up to the nearest
// supported step, capping at the hardware maximum. The -0.5 slack below the
// minimum step absorbs float rounding that would otherwise reject an excess
// sitting exactly at the minimum.
//
// A non-positive excess or a malformed step set yields 0; this function never
// fails. Callers should treat a malformed step set as a configuration
// integrity problem, not something to retry.
func TargetAmperage(excessWatts float64, allowedAmps []int, voltage float64) int {
	if excessWatts <= 0 {
		return 0
	}
	if !ValidAmperageSteps(allowedAmps) {
		return 0
	}

	idealAmps := excessWatts / voltage
	if floor := float64(allowedAmps[0]) - 0.5; idealAmps < floor {
		idealAmps = floor
	}

	for _, amps := range allowedAmps {
		if float64(amps) >= idealAmps {
			return amps
		}
	}
	return allowedAmps[len(allowedAmps)-1]
}

// ValidAmperageSteps reports whether allowed is a proper step set: non-empty,
// strictly increasing, all positive.
func ValidAmperageSteps(allowed []int) bool {
	if len(allowed) == 0 {
		return false
	}
	prev := 0
	for _, amps := range allowed {
		if amps <= prev {
			return false
		}
		prev = amps
	}
	return true
}

// ScheduleTarget resolves the low-production override from the charger's TOU
// schedule: charge at the maximum step during off-peak, defer during peak,
// and fail open toward charging when the charger doesn't report a schedule.
// allowed must already be validated.
func ScheduleTarget(charger *chargepoint.ChargerStatus, allowed []int) int {
	maxAmps := allowed[len(allowed)-1]
	if charger == nil || charger.IsDuringScheduledTime == nil {
		return maxAmps
	}
	if *charger.IsDuringScheduledTime {
		return maxAmps
	}
	return 0
}

// MinimumWattsRequired is the least predicted excess worth starting to charge
// for, derived from the smallest supported step with the same -0.5 slack used
// by TargetAmperage. allowed must already be validated.
func MinimumWattsRequired(allowed []int, voltage float64) float64 {
	return (float64(allowed[0]) - 0.5) * voltage
}
