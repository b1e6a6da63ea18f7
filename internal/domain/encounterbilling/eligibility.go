package encounterbilling

import "time"

// FreeReassignment decides whether the patient's next consultation after a
// doctor reassignment is free: at least one prior billing item, no earlier
// reassignment, the followup not yet consumed, and the first consultation no
// more than windowDays ago.
func FreeReassignment(profile *PatientProfile, priorItems int, now time.Time, windowDays int) bool {
	if profile == nil || priorItems < 1 {
		return false
	}
	if profile.IsReassigned || profile.FollowupUsed {
		return false
	}
	if profile.FirstConsultationDate == nil {
		return false
	}
	window := time.Duration(windowDays) * 24 * time.Hour
	return now.Sub(*profile.FirstConsultationDate) <= window
}
