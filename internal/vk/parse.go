package vk

import "fmt"

// wallItem mirrors the subset of a wall.get item this bot consumes.
type wallItem struct {
	ID          int64        `json:"id"`
	FromID      int64        `json:"from_id"`
	OwnerID     int64        `json:"owner_id"`
	Date        int64        `json:"date"`
	Text        string       `json:"text"`
	IsPinned    int          `json:"is_pinned"`
	MarkedAsAds int          `json:"marked_as_ads"`
	Attachments []attachment `json:"attachments"`
}

type attachment struct {
	Type  string     `json:"type"`
	Photo *photoInfo `json:"photo"`
	Video *videoInfo `json:"video"`
	Link  *linkInfo  `json:"link"`
}

type photoInfo struct {
	Sizes []photoSize `json:"sizes"`
}

type photoSize struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type videoInfo struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	Title   string `json:"title"`
}

type linkInfo struct {
	URL   string     `json:"url"`
	Title string     `json:"title"`
	Photo *photoInfo `json:"photo"`
}

// groupItem mirrors a groups.getById entry.
type groupItem struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ScreenName string `json:"screen_name"`
	IsClosed   int    `json:"is_closed"`
	Photo200   string `json:"photo_200"`
}

func (it wallItem) toPost() Post {
	p := Post{
		ID:      it.ID,
		FromID:  it.FromID,
		OwnerID: it.OwnerID,
		Date:    it.Date,
		Text:    it.Text,
		Pinned:  it.IsPinned != 0,
	}
	for _, a := range it.Attachments {
		switch a.Type {
		case "photo":
			if a.Photo != nil {
				if u := a.Photo.bestURL(); u != "" {
					p.Photos = append(p.Photos, u)
				}
			}
		case "video":
			if a.Video != nil {
				p.Videos = append(p.Videos, Video{
					URL:   fmt.Sprintf("https://vk.com/video%d_%d", a.Video.OwnerID, a.Video.ID),
					Title: a.Video.Title,
				})
			}
		case "link":
			// Last link attachment wins; posts rarely carry more than one.
			if a.Link != nil {
				l := Link{URL: a.Link.URL, Title: a.Link.Title}
				if a.Link.Photo != nil {
					l.Photo = a.Link.Photo.bestURL()
				}
				p.Link = &l
			}
		}
	}
	return p
}

// bestURL picks the largest size VK offers. Sizes are ordered small to
// large, so the last entry is the highest resolution.
func (ph photoInfo) bestURL() string {
	if len(ph.Sizes) == 0 {
		return ""
	}
	return ph.Sizes[len(ph.Sizes)-1].URL
}
