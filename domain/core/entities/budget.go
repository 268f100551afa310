package entities

import "time"

// Admission is the verdict of the capacity check
type Admission struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason,omitempty"`
	Priority bool   `json:"priority,omitempty"`
	Cost     int64  `json:"cost"`
}

// Budget is the rolling ledger of capacity donated to the network
type Budget struct {
	DonationPct  int                `json:"donation_pct"`
	PeriodStart  time.Time          `json:"period_start"`
	UsedUnits    int64              `json:"used_units"`
	LimitUnits   int64              `json:"limit_units"`
	PerPeerUsage map[string]int64   `json:"per_peer_usage"`
	OwnerUnits   int64              `json:"owner_units"`
	CallsTotal   int64              `json:"calls_total"`
	Reservations map[string][]int64 `json:"reservations,omitempty"`
}

// NewBudget starts a ledger whose limit is the donated share of totalUnits
func NewBudget(totalUnits int64, donationPct int, now time.Time) Budget {
	return Budget{
		DonationPct:  donationPct,
		PeriodStart:  now,
		LimitUnits:   DonatedUnits(totalUnits, donationPct),
		PerPeerUsage: map[string]int64{},
	}
}

// DonatedUnits computes the share of totalUnits offered to peers
func DonatedUnits(totalUnits int64, donationPct int) int64 {
	if donationPct < 0 {
		donationPct = 0
	}
	if donationPct > 100 {
		donationPct = 100
	}
	return totalUnits * int64(donationPct) / 100
}

// Clone returns a deep copy
func (b Budget) Clone() Budget {
	out := b
	out.PerPeerUsage = make(map[string]int64, len(b.PerPeerUsage))
	for k, v := range b.PerPeerUsage {
		out.PerPeerUsage[k] = v
	}
	if b.Reservations != nil {
		out.Reservations = make(map[string][]int64, len(b.Reservations))
		for k, v := range b.Reservations {
			out.Reservations[k] = append([]int64(nil), v...)
		}
	}
	return out
}

// Rollover advances the period when now is past its end. Usage resets and
// period_start moves forward by whole periods, so a node that slept through
// several periods lands in the one containing now.
func (b *Budget) Rollover(now time.Time, period time.Duration) bool {
	if period <= 0 || now.Before(b.PeriodStart.Add(period)) {
		return false
	}
	elapsed := now.Sub(b.PeriodStart) / period
	b.PeriodStart = b.PeriodStart.Add(elapsed * period)
	b.UsedUnits = 0
	b.OwnerUnits = 0
	b.PerPeerUsage = map[string]int64{}
	b.Reservations = nil
	return true
}

// Admit reserves estimated units for peer, or denies when the reservation
// would push usage past the limit. Priority peers are admitted regardless
// and still charged.
func (b *Budget) Admit(peer string, estimated int64, priority bool) Admission {
	if estimated < 0 {
		estimated = 0
	}
	if !priority && b.UsedUnits+estimated > b.LimitUnits {
		return Admission{Allowed: false, Reason: "capacity exhausted", Cost: estimated}
	}

	b.UsedUnits += estimated
	b.charge(peer, estimated)
	if b.Reservations == nil {
		b.Reservations = map[string][]int64{}
	}
	b.Reservations[peer] = append(b.Reservations[peer], estimated)
	b.CallsTotal++
	return Admission{Allowed: true, Priority: priority, Cost: estimated}
}

// Record charges the actual cost of work done for peer. The oldest
// outstanding reservation is settled first; only the excess is added, so
// used_units never decreases within a period.
func (b *Budget) Record(peer string, actual int64) {
	if actual <= 0 {
		return
	}
	reserved := int64(0)
	if queue := b.Reservations[peer]; len(queue) > 0 {
		reserved = queue[0]
		if len(queue) == 1 {
			delete(b.Reservations, peer)
		} else {
			b.Reservations[peer] = queue[1:]
		}
	}
	if excess := actual - reserved; excess > 0 {
		b.UsedUnits += excess
		b.charge(peer, excess)
	}
}

// RecordOwner tracks the owner's own usage, which is not donated capacity
func (b *Budget) RecordOwner(units int64) {
	if units > 0 {
		b.OwnerUnits += units
	}
}

func (b *Budget) charge(peer string, units int64) {
	if b.PerPeerUsage == nil {
		b.PerPeerUsage = map[string]int64{}
	}
	b.PerPeerUsage[peer] += units
}

// Remaining returns the units left in the period
func (b Budget) Remaining() int64 {
	if r := b.LimitUnits - b.UsedUnits; r > 0 {
		return r
	}
	return 0
}

// AvailablePct is the remaining share of the limit as a percentage
func (b Budget) AvailablePct() float64 {
	if b.LimitUnits <= 0 {
		return 0
	}
	return ClampPct(float64(b.Remaining()) * 100 / float64(b.LimitUnits))
}
