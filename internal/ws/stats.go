package ws

import (
	"math"
	"sort"
)

// Stats is the observability view of the realtime layer.
type Stats struct {
	TotalConnections             int                    `json:"totalConnections"`
	TotalUsers                   int                    `json:"totalUsers"`
	TotalCommunitySubscriptions  int                    `json:"totalCommunitySubscriptions"`
	MaxConnections               int                    `json:"maxConnections"`
	ConnectionUtilization        float64                `json:"connectionUtilization"`
	PerCommunitySubscriberCounts []CommunitySubscribers `json:"perCommunitySubscriberCounts"`
}

type CommunitySubscribers struct {
	CommunityID     string `json:"communityId"`
	SubscriberCount int    `json:"subscriberCount"`
}

// Stats reports connection and subscription counts. Utilization is a
// percentage of MaxConnections rounded to two decimals.
func (m *Manager) Stats() Stats {
	counts := m.subs.SubscriberCounts()
	perCommunity := make([]CommunitySubscribers, 0, len(counts))
	for id, n := range counts {
		perCommunity = append(perCommunity, CommunitySubscribers{CommunityID: id, SubscriberCount: n})
	}
	sort.Slice(perCommunity, func(i, j int) bool {
		if perCommunity[i].SubscriberCount != perCommunity[j].SubscriberCount {
			return perCommunity[i].SubscriberCount > perCommunity[j].SubscriberCount
		}
		return perCommunity[i].CommunityID < perCommunity[j].CommunityID
	})

	s := Stats{
		TotalConnections:             m.registry.Count(),
		TotalUsers:                   m.registry.UserCount(),
		TotalCommunitySubscriptions:  len(counts),
		MaxConnections:               m.registry.Limit(),
		PerCommunitySubscriberCounts: perCommunity,
	}
	if s.MaxConnections > 0 {
		s.ConnectionUtilization = math.Round(float64(s.TotalConnections)/float64(s.MaxConnections)*10000) / 100
	}
	return s
}

// Healthy reports whether utilization is below 90%.
func (s Stats) Healthy() bool {
	return s.MaxConnections <= 0 || s.ConnectionUtilization < 90
}
