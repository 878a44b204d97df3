package util

import (
	corev1 "k8s.io/api/core/v1"
)

// UpperBoundedResourceList returns the limits of the requirements, falling
// back to the requests for resources without a limit.
func UpperBoundedResourceList(requirements corev1.ResourceRequirements) corev1.ResourceList {
	list := corev1.ResourceList{}
	for name, quantity := range requirements.Requests {
		list[name] = quantity.DeepCopy()
	}
	for name, quantity := range requirements.Limits {
		list[name] = quantity.DeepCopy()
	}
	return list
}

// GetNonLiveHistory returns the oldest entries of history exceeding the limit.
func GetNonLiveHistory[T any](history []T, historyLimit int) []T {
	nonLiveHistory := make([]T, 0)

	historyLen := len(history)
	if historyLen <= historyLimit {
		return nonLiveHistory
	}

	nonLiveHistory = append(nonLiveHistory, history[:(historyLen-historyLimit)]...)
	return nonLiveHistory
}

// TrimHistory keeps the newest historyLimit entries.
func TrimHistory[T any](history []T, historyLimit int) []T {
	dropped := len(GetNonLiveHistory(history, historyLimit))
	return append([]T{}, history[dropped:]...)
}
