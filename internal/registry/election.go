package registry

import "github.com/mossy-p/studyroom-signaling/internal/models"

// ElectHost picks the host of a room. A current host other than leavingHost
// keeps the role. Otherwise the earliest joined participant, ties broken by
// user id, becomes host. An empty room has no host.
func ElectHost(participants []models.Participant, leavingHost string) string {
	var candidate *models.Participant
	for i := range participants {
		p := &participants[i]
		if leavingHost != "" && p.UserID == leavingHost {
			continue
		}
		if p.IsHost {
			return p.UserID
		}
		if candidate == nil || joinedBefore(*p, *candidate) {
			candidate = p
		}
	}
	if candidate == nil {
		return ""
	}
	return candidate.UserID
}

func joinedBefore(a, b models.Participant) bool {
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.UserID < b.UserID
}
