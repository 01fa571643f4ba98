package normalize

import (
	"errors"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// Alerts normalizes RSS/Atom alert channels. Feeds decoded by gofeed are the
// common case; feeds served with an XML content type arrive as a plain
// element tree and go through the <rss><channel><item> sub-normalizer.
type Alerts struct{}

func (Alerts) Name() string { return "alerts" }

func (Alerts) Normalize(raw any) (any, error) {
	switch v := raw.(type) {
	case domain.AlertFeed:
		return v, nil
	case *domain.AlertFeed:
		return *v, nil
	case *gofeed.Feed:
		return alertsFromFeed(v)
	case *XMLNode:
		return alertsFromXML(v)
	}

	feed, ok, err := canonical[domain.AlertFeed](raw, "items")
	if !ok {
		return nil, &domain.NormalizationError{Kind: domain.UnexpectedShape, Err: errors.New("not an RSS feed: " + describe(raw))}
	}
	if err != nil {
		return nil, err
	}
	for _, it := range feed.Items {
		if err := checkAlert(it); err != nil {
			return nil, err
		}
	}
	if feed.Items == nil {
		feed.Items = []domain.Alert{}
	}
	return feed, nil
}

func alertsFromFeed(f *gofeed.Feed) (domain.AlertFeed, error) {
	out := domain.AlertFeed{Title: f.Title, Items: make([]domain.Alert, 0, len(f.Items))}
	for _, it := range f.Items {
		a := domain.Alert{
			Title:       it.Title,
			Link:        it.Link,
			Description: it.Description,
		}
		switch {
		case it.PublishedParsed != nil:
			a.Published = it.PublishedParsed.UTC()
		case it.UpdatedParsed != nil:
			a.Published = it.UpdatedParsed.UTC()
		}
		if err := checkAlert(a); err != nil {
			return domain.AlertFeed{}, err
		}
		out.Items = append(out.Items, a)
	}
	return out, nil
}

func alertsFromXML(root *XMLNode) (domain.AlertFeed, error) {
	channel := root
	switch root.Name {
	case "rss":
		channel = root.Child("channel")
	case "channel":
	default:
		return domain.AlertFeed{}, &domain.NormalizationError{Kind: domain.UnexpectedShape, Err: errors.New("not an RSS feed: " + describe(root))}
	}
	if channel == nil {
		return domain.AlertFeed{}, missing("channel")
	}

	items := channel.All("item")
	out := domain.AlertFeed{Title: channel.ChildText("title"), Items: make([]domain.Alert, 0, len(items))}
	for _, it := range items {
		a := domain.Alert{
			Title:       it.ChildText("title"),
			Link:        it.ChildText("link"),
			Description: it.ChildText("description"),
		}
		if t, ok := parseRSSTime(it.ChildText("pubDate")); ok {
			a.Published = t
		}
		if err := checkAlert(a); err != nil {
			return domain.AlertFeed{}, err
		}
		out.Items = append(out.Items, a)
	}
	return out, nil
}

func parseRSSTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return parseTime(s)
}

func checkAlert(a domain.Alert) error {
	if a.Title == "" {
		return missing("item.title")
	}
	if a.Link == "" {
		return missing("item.link")
	}
	return nil
}
