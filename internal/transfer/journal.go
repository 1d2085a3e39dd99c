package transfer

import (
	"context"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/jask/dotsend/internal/database/repository"
)

// Journal records submissions. *repository.TransferRepo satisfies it.
type Journal interface {
	Record(ctx context.Context, t repository.Transfer) error
	Finish(ctx context.Context, id, status string, blockHash, errMsg *string) error
	Receivers(ctx context.Context, sender string) ([]string, error)
}

// NearMiss returns the known receiver closest to receiver when it is
// between 1 and maxDistance edits away. An exact match is never a near miss.
func NearMiss(receiver string, known []string, maxDistance int) (string, int, bool) {
	receiver = strings.TrimSpace(receiver)
	if receiver == "" || maxDistance <= 0 {
		return "", 0, false
	}
	best, bestDist := "", maxDistance+1
	for _, k := range known {
		if k == receiver {
			return "", 0, false
		}
		d := levenshtein.ComputeDistance(receiver, k)
		if d > 0 && d < bestDist {
			best, bestDist = k, d
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestDist, true
}
