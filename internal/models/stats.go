package models

import "gorm.io/gorm"

// ActiveRegistrations restricts a registrations query to rows holding a slot.
// Every capacity check and every displayed count goes through it.
func ActiveRegistrations(db *gorm.DB) *gorm.DB {
	return db.Where("registrations.status IN ?", ActiveStatuses)
}

type EventStats struct {
	RegistrationCount int64  `json:"registrationCount"`
	SpotsLeft         *int64 `json:"spotsLeft"`
	IsSoldOut         bool   `json:"isSoldOut"`
}

func ComputeStats(maxAttendees *int, active int64) EventStats {
	stats := EventStats{RegistrationCount: active}
	if maxAttendees == nil {
		return stats
	}

	left := int64(*maxAttendees) - active
	if left < 0 {
		left = 0
	}
	stats.SpotsLeft = &left
	stats.IsSoldOut = active >= int64(*maxAttendees)
	return stats
}

// CountActive counts active registrations for one event.
func CountActive(db *gorm.DB, eventID uint) (int64, error) {
	var n int64
	err := db.Model(&Registration{}).
		Scopes(ActiveRegistrations).
		Where("event_id = ?", eventID).
		Count(&n).Error
	return n, err
}

// CountActiveByEvent returns active counts keyed by event id.
func CountActiveByEvent(db *gorm.DB, eventIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(eventIDs))
	if len(eventIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		EventID uint
		N       int64
	}
	err := db.Model(&Registration{}).
		Select("event_id, COUNT(*) AS n").
		Scopes(ActiveRegistrations).
		Where("event_id IN ?", eventIDs).
		Group("event_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, r := range rows {
		counts[r.EventID] = r.N
	}
	return counts, nil
}
