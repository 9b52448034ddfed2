package ws

import (
	"sync"

	"github.com/samber/lo"
)

/*
SubscriptionIndex keeps two maps of the same relation:

 1. community id -> subscribed user ids, used to resolve broadcast targets;
 2. user id -> community ids, used to tear a user down in one pass.

Every mutation updates both maps under one lock, so for any user u and
community c, u is in byCommunity[c] iff c is in byUser[u]. Empty sets are
deleted. The index does not check membership; callers must.
*/
type SubscriptionIndex struct {
	mu          sync.RWMutex
	byCommunity map[string]map[string]struct{}
	byUser      map[string]map[string]struct{}
}

func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{
		byCommunity: make(map[string]map[string]struct{}),
		byUser:      make(map[string]map[string]struct{}),
	}
}

// Subscribe adds userID to communityID. Idempotent.
func (s *SubscriptionIndex) Subscribe(userID, communityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addPair(s.byCommunity, communityID, userID)
	addPair(s.byUser, userID, communityID)
}

// Unsubscribe removes userID from communityID. Idempotent.
func (s *SubscriptionIndex) Unsubscribe(userID, communityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removePair(s.byCommunity, communityID, userID)
	removePair(s.byUser, userID, communityID)
}

// PurgeUser removes userID from every community and returns the communities it left.
func (s *SubscriptionIndex) PurgeUser(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	communities := lo.Keys(s.byUser[userID])
	for _, communityID := range communities {
		removePair(s.byCommunity, communityID, userID)
	}
	delete(s.byUser, userID)
	return communities
}

// SubscribersOf returns a snapshot of the users subscribed to communityID.
func (s *SubscriptionIndex) SubscribersOf(communityID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Keys(s.byCommunity[communityID])
}

// MembershipsOf returns a snapshot of the communities userID is subscribed to.
func (s *SubscriptionIndex) MembershipsOf(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Keys(s.byUser[userID])
}

// IsSubscribed reports whether userID is subscribed to communityID.
func (s *SubscriptionIndex) IsSubscribed(userID, communityID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byCommunity[communityID][userID]
	return ok
}

// CommunityCount returns the number of communities with at least one subscriber.
func (s *SubscriptionIndex) CommunityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byCommunity)
}

// SubscriberCounts returns the subscriber count of every non-empty community.
func (s *SubscriptionIndex) SubscriberCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.MapValues(s.byCommunity, func(users map[string]struct{}, _ string) int {
		return len(users)
	})
}

func addPair(m map[string]map[string]struct{}, key, value string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[value] = struct{}{}
}

func removePair(m map[string]map[string]struct{}, key, value string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, value)
	if len(set) == 0 {
		delete(m, key)
	}
}
