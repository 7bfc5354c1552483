// Package availability computes which calendar days of a short-term listing
// can be booked, and validates a requested stay against them.
package availability

import (
	"fmt"
	"sort"

	"lazone/api/internal/apperr"
)

// MaxStayNights is the longest stay a single request may cover.
const MaxStayNights = 365

// Range is a stay covering the half-open interval [CheckIn, CheckOut): the
// checkout day is free for the next guest's check-in.
type Range struct {
	CheckIn  Date
	CheckOut Date
}

// Nights is the number of nights in the stay.
func (r Range) Nights() int {
	return r.CheckIn.DaysUntil(r.CheckOut)
}

// DisabledDates is the set of unbookable days for one listing as of a given
// day. It carries no state beyond what it was computed from.
type DisabledDates struct {
	today  Date
	booked map[Date]struct{}
}

// ComputeDisabledDates unions every day of each approved stay, the explicitly
// blocked days, and every day strictly before today.
func ComputeDisabledDates(approved []Range, blocked []Date, today Date) DisabledDates {
	dd := DisabledDates{today: today, booked: make(map[Date]struct{})}
	for _, r := range approved {
		start := r.CheckIn
		if start.Before(today) {
			// Past days are disabled without being stored.
			start = today
		}
		for d := start; d.Before(r.CheckOut); d = d.AddDays(1) {
			dd.booked[d] = struct{}{}
		}
	}
	for _, d := range blocked {
		dd.booked[d] = struct{}{}
	}
	return dd
}

// IsDateDisabled reports whether d cannot be part of a new stay.
func (dd DisabledDates) IsDateDisabled(d Date) bool {
	if d.Before(dd.today) {
		return true
	}
	_, ok := dd.booked[d]
	return ok
}

// Today is the cutoff the set was computed for.
func (dd DisabledDates) Today() Date {
	return dd.today
}

// List returns the disabled days in [from, to), sorted. Past days before
// from are not enumerated.
func (dd DisabledDates) List(from, to Date) []Date {
	var out []Date
	for d := from; d.Before(to); d = d.AddDays(1) {
		if dd.IsDateDisabled(d) {
			out = append(out, d)
		}
	}
	return out
}

// Booked returns the booked or blocked days on or after today, sorted.
func (dd DisabledDates) Booked() []Date {
	out := make([]Date, 0, len(dd.booked))
	for d := range dd.booked {
		if !d.Before(dd.today) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// ValidateRange checks a requested stay and returns its number of nights.
// A stay shorter than minimumStay fails with RangeTooShort regardless of
// availability; a stay touching a disabled day fails with
// RangeOverlapsUnavailable. Stays over MaxStayNights fail with StayTooLong
// before any day is inspected.
func ValidateRange(checkIn, checkOut Date, minimumStay int, disabled DisabledDates) (int, error) {
	if !checkOut.After(checkIn) {
		return 0, apperr.New(apperr.KindValidation, apperr.CodeInvalidRange, "check-out must be after check-in")
	}
	if minimumStay < 1 {
		minimumStay = 1
	}
	nights := checkIn.DaysUntil(checkOut)
	if nights < minimumStay {
		return 0, apperr.New(apperr.KindValidation, apperr.CodeRangeTooShort,
			fmt.Sprintf("stay of %d nights is shorter than the minimum of %d", nights, minimumStay))
	}
	if nights > MaxStayNights {
		return 0, apperr.New(apperr.KindValidation, apperr.CodeStayTooLong,
			fmt.Sprintf("stay of %d nights exceeds the maximum of %d", nights, MaxStayNights))
	}
	for d := checkIn; d.Before(checkOut); d = d.AddDays(1) {
		if disabled.IsDateDisabled(d) {
			return 0, apperr.New(apperr.KindValidation, apperr.CodeRangeOverlapsUnavailable,
				fmt.Sprintf("%s is not available", d))
		}
	}
	return nights, nil
}

// Overlaps reports whether two stays share at least one night.
func Overlaps(a, b Range) bool {
	return a.CheckIn.Before(b.CheckOut) && b.CheckIn.Before(a.CheckOut)
}
