package jobs

// IsTerminal reports whether a job in this status will never change again.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether a worker currently owns the job.
func IsActive(s Status) bool {
	return s == StatusDownloading || s == StatusProcessing
}

// ValidTransition enforces the job state machine edges.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusDownloading || to == StatusCancelled
	case StatusDownloading:
		return to == StatusProcessing || to == StatusFailed ||
			to == StatusCancelled || to == StatusPending
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed ||
			to == StatusCancelled || to == StatusPending
	case StatusFailed:
		// manual retry only
		return to == StatusPending
	default:
		return false
	}
}
