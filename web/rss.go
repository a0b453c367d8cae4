package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/feeds"

	"github.com/lodeweb/lodestone/activitypub"
	"github.com/lodeweb/lodestone/domain"
	"github.com/lodeweb/lodestone/util"
)

const rssFeedSize = 50

// GetRSS renders the published posts of one user, or of the whole
// instance, as an RSS feed
func GetRSS(fed *activitypub.Federation, username string) (string, error) {
	conf := fed.Conf

	var err error
	var posts *[]domain.Post
	var title string
	var author string

	link := fmt.Sprintf("https://%s/feed", conf.Conf.SslDomain)

	if username != "" {
		if uerr, user := fed.DB.ReadUserByUsername(username); uerr != nil || user == nil {
			log.Printf("No such user %s: %v", username, uerr)
			return "", errors.New("unknown user")
		}
		err, posts = fed.DB.ReadPublishedPostsByUsername(username, rssFeedSize)
		if err != nil || posts == nil {
			log.Printf("Could not get posts from %s: %v", username, err)
			return "", errors.New("error retrieving posts by username")
		}
		title = fmt.Sprintf("%s - %s", util.Name, username)
		author = username
		link = fmt.Sprintf("%s?username=%s", link, username)
	} else {
		err, posts = fed.DB.ReadPublishedPosts(rssFeedSize)
		if err != nil || posts == nil {
			log.Printf("Could not get posts: %v", err)
			return "", errors.New("error retrieving posts")
		}
		title = fmt.Sprintf("%s - all posts", util.Name)
		author = "everyone"
	}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("published posts on %s", conf.Conf.SslDomain),
		Author:      &feeds.Author{Name: author, Email: fmt.Sprintf("%s@%s", author, conf.Conf.SslDomain)},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, post := range *posts {
		itemTitle := post.Title
		if itemTitle == "" {
			itemTitle = post.CreatedAt.Format(util.DateTimeFormat())
		}
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      post.Id.String(),
				Title:   itemTitle,
				Link:    &feeds.Link{Href: fmt.Sprintf("https://%s/posts/%s", conf.Conf.SslDomain, post.Id)},
				Content: post.Content,
				Created: post.CreatedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}
