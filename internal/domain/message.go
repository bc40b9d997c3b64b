package domain

import "time"

// Message is one raw mailbox entry as fetched from the server.
type Message struct {
	// ID is the stable dedup key: the RFC 5322 Message-ID when present,
	// otherwise a synthetic "uid:<folder>/<uid>" token.
	ID       string
	UID      uint32
	Folder   string
	From     string
	Subject  string
	TextBody string
	HTMLBody string
}

// Article is the extracted content of a linked page.
type Article struct {
	Title string
	Text  string
}

// Item is a per-run digest candidate built from one message. It never
// outlives the run; only its MessageID is persisted.
type Item struct {
	MessageID   string
	UID         uint32
	Folder      string
	SourceID    string
	SourceName  string
	Priority    int
	Title       string
	Subject     string
	Preview     string
	Link        string
	ArticleText string
	// Score is the optional external importance score in [0,1].
	// nil means scoring did not run or did not cover this item; ranking
	// treats it as neutral.
	Score *float64
}

// Digest is the single rendered batch of one run.
type Digest struct {
	RunID       string
	GeneratedAt time.Time
	Scored      bool
	Items       []Item
}
