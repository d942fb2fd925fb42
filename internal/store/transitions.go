package store

import "qms/walkin-service/internal/models"

var transitionMap = map[string][]string{
	"call":      {models.StatusWaiting},
	"skip":      {models.StatusCalled},
	"recall":    {models.StatusCalled},
	"complete":  {models.StatusCalled},
	"reinstate": {models.StatusSkipped},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
