package health

import "time"

func newStatus(component, status, message string) Status {
	return Status{
		Component: component,
		Healthy:   status == StatusHealthy,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StatusHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StatusUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StatusDegraded, message)
}

// Aggregate folds sub-statuses: any unhealthy makes the aggregate unhealthy, otherwise
// any degraded makes it degraded.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "No sub-components to aggregate")
	}

	var unhealthy, degraded bool
	for _, sub := range subStatuses {
		unhealthy = unhealthy || sub.IsUnhealthy()
		degraded = degraded || sub.IsDegraded()
	}

	var st Status
	switch {
	case unhealthy:
		st = NewUnhealthy(component, "One or more sub-components are unhealthy")
	case degraded:
		st = NewDegraded(component, "One or more sub-components are degraded")
	default:
		st = NewHealthy(component, "All sub-components are healthy")
	}
	st.SubStatuses = append([]Status(nil), subStatuses...)
	return st
}
