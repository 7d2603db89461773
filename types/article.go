package types

import (
	"encoding/json"
	"time"
)

// RawSource is the provider's description of the outlet that published an article.
type RawSource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RawArticle represents a single provider-native article as fetched, before any
// validation. PublishedAt is kept verbatim because providers send it in mixed
// formats (or not at all).
type RawArticle struct {
	Source      RawSource `json:"source"`
	Author      string    `json:"author,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	URLToImage  string    `json:"urlToImage,omitempty"`
	PublishedAt string    `json:"publishedAt"`
	Content     string    `json:"content,omitempty"`
	// Topic is the search query that surfaced the article.
	Topic string `json:"topic,omitempty"`
}

// UnmarshalJSON tolerates providers sending null for string fields.
func (r *RawArticle) UnmarshalJSON(data []byte) error {
	type alias struct {
		Source      *RawSource `json:"source"`
		Author      *string    `json:"author"`
		Title       *string    `json:"title"`
		Description *string    `json:"description"`
		URL         *string    `json:"url"`
		URLToImage  *string    `json:"urlToImage"`
		PublishedAt *string    `json:"publishedAt"`
		Content     *string    `json:"content"`
		Topic       *string    `json:"topic"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = RawArticle{
		Author:      deref(a.Author),
		Title:       deref(a.Title),
		Description: deref(a.Description),
		URL:         deref(a.URL),
		URLToImage:  deref(a.URLToImage),
		PublishedAt: deref(a.PublishedAt),
		Content:     deref(a.Content),
		Topic:       deref(a.Topic),
	}
	if a.Source != nil {
		r.Source = *a.Source
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CanonicalArticle is the provider-independent article record. Field order is the
// column order of the normalized Parquet files.
type CanonicalArticle struct {
	Source      string    `json:"source" parquet:"source"`
	SourceName  string    `json:"source_name" parquet:"source_name"`
	Title       string    `json:"title" parquet:"title"`
	Description *string   `json:"description" parquet:"description,optional"`
	URL         string    `json:"url" parquet:"url"`
	PublishedAt time.Time `json:"published_at" parquet:"published_at,timestamp(microsecond)"`
	Topic       *string   `json:"topic" parquet:"topic,optional"`
	ArticleHash string    `json:"article_hash" parquet:"article_hash"`
	IngestedAt  time.Time `json:"ingested_at" parquet:"ingested_at,timestamp(microsecond)"`
}

// RawBatch is the audit envelope written for every fetch, duplicates included.
type RawBatch struct {
	BatchID      string       `json:"batch_id"`
	Query        string       `json:"query"`
	Source       string       `json:"source"`
	FetchedAt    time.Time    `json:"fetched_at"`
	ArticleCount int          `json:"article_count"`
	Articles     []RawArticle `json:"articles"`
}
