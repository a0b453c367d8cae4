package web

import (
	"fmt"

	"github.com/lodeweb/lodestone/activitypub"
	"github.com/lodeweb/lodestone/domain"
)

// GetWebfinger resolves an acct: name to its actor URI. User actors
// take precedence; a name no user claims may still resolve to a
// community's group actor.
func GetWebfinger(name string, fed *activitypub.Federation) (error, string) {
	actor, err := fed.Registry.FindByUsername(name, domain.ActorKindUser)
	if err != nil {
		return err, GetWebFingerNotFound()
	}
	if actor == nil {
		actor, err = fed.Registry.FindByUsername(name, domain.ActorKindGroup)
		if err != nil || actor == nil {
			return fmt.Errorf("no actor named %s", name), GetWebFingerNotFound()
		}
	}

	return nil, fmt.Sprintf(
		`{
					"subject": "acct:%s@%s",

					"links": [
						{
							"rel": "self",
							"type": "application/activity+json",
							"href": "%s"
						}
					]
				}`, actor.Username, fed.Conf.Conf.SslDomain, actor.ActorURI)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
