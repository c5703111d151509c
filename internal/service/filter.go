package service

import "github.com/unclebandit/campaign-dispatch/internal/model"

// SelectRecipients returns the subscribed subscribers sharing at least one
// tag with the campaign. When nobody matches, including when the campaign
// has no tags, every subscribed subscriber is returned. Input order is kept.
func SelectRecipients(subscribers []model.Subscriber, campaignTags []int) []model.Subscriber {
	wanted := make(map[int]struct{}, len(campaignTags))
	for _, id := range campaignTags {
		wanted[id] = struct{}{}
	}

	subscribed := make([]model.Subscriber, 0, len(subscribers))
	matched := make([]model.Subscriber, 0, len(subscribers))
	for _, s := range subscribers {
		if !s.IsSubscribed() {
			continue
		}
		subscribed = append(subscribed, s)
		for _, tag := range s.TagIDs {
			if _, ok := wanted[tag]; ok {
				matched = append(matched, s)
				break
			}
		}
	}

	if len(matched) == 0 {
		return subscribed
	}
	return matched
}
