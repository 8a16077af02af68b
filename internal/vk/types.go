package vk

// Post is one immutable wall post, fetched fresh on every pass and never
// persisted.
type Post struct {
	ID      int64
	FromID  int64
	OwnerID int64
	Date    int64
	Text    string
	Photos  []string
	Videos  []Video
	Link    *Link
	Pinned  bool
}

// Video is referenced by URL only; video binaries are never fetched.
type Video struct {
	URL   string
	Title string
}

// Link is the post's external link preview with an optional preview photo.
type Link struct {
	URL   string
	Title string
	Photo string
}

// Group is the channel metadata as VK reports it.
type Group struct {
	ID     int64
	Name   string
	Domain string
	Closed bool
	Photo  string
}
