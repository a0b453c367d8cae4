package activitypub

import (
	"log"

	"github.com/lodeweb/lodestone/db"
	"github.com/lodeweb/lodestone/domain"
)

// Policy is the cascading three-level gate deciding whether content
// may leave the instance: content state and opt-in, then the author,
// then the community. Gates fail closed; absence of explicit
// permission is denial (except the community tier, where a missing
// settings row is neutral).
type Policy struct {
	db *db.DB
}

func NewPolicy(database *db.DB) *Policy {
	return &Policy{db: database}
}

// effectiveShouldFederate resolves the content opt-in: an explicit
// post decision wins, otherwise the author's default applies
func (p *Policy) effectiveShouldFederate(post *domain.Post) (bool, error) {
	err, ps := p.db.ReadPostSettings(post.Id)
	if err != nil {
		return false, err
	}
	if ps != nil {
		return ps.ShouldFederate, nil
	}

	err, us := p.db.FindOrCreateUserSettings(post.AuthorId)
	if err != nil {
		return false, err
	}
	return us.DefaultFederatePosts, nil
}

// CanFederate evaluates the eligibility cascade in order,
// short-circuiting on the first failing gate:
//  1. the post must be published
//  2. the post's own opt-in must hold (defaulted from the author)
//  3. the author must have federation enabled
//  4. a community with explicit settings must have federation
//     enabled; a community without settings is neutral
func (p *Policy) CanFederate(post *domain.Post) bool {
	if !post.Published() {
		return false
	}

	shouldFederate, err := p.effectiveShouldFederate(post)
	if err != nil {
		log.Printf("Policy: Failed to resolve post opt-in for %s: %v", post.Id, err)
		return false
	}
	if !shouldFederate {
		return false
	}

	err, us := p.db.FindOrCreateUserSettings(post.AuthorId)
	if err != nil {
		log.Printf("Policy: Failed to read user settings for %s: %v", post.AuthorId, err)
		return false
	}
	if !us.FederationEnabled {
		return false
	}

	if post.CommunityId.Valid {
		err, ss := p.db.ReadSubSettings(post.CommunityId.UUID)
		if err != nil {
			log.Printf("Policy: Failed to read community settings for %s: %v", post.CommunityId.UUID, err)
			return false
		}
		if ss != nil && !ss.FederationEnabled {
			return false
		}
	}

	return true
}

// PendingFederation returns the working set of posts flagged to
// federate but not yet federated, re-filtered through CanFederate.
// A post can toggle eligible -> ineligible between being flagged and
// being processed, so the flag alone is never trusted.
func (p *Policy) PendingFederation(limit int) ([]domain.Post, error) {
	err, flagged := p.db.ReadPendingFederationPosts(limit)
	if err != nil {
		return nil, err
	}

	eligible := make([]domain.Post, 0, len(*flagged))
	for _, post := range *flagged {
		if p.CanFederate(&post) {
			eligible = append(eligible, post)
		}
	}
	return eligible, nil
}
