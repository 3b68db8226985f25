package handler

import (
	"encoding/xml"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/resultwatch/internal/model"
	"github.com/hitoshi/resultwatch/internal/notify"
)

// feedItemLimit はRSSに含める変更履歴の件数。
const feedItemLimit = 50

// FeedConfig はRSSチャネルの設定。
type FeedConfig struct {
	Title string
	// Link はチャネルのリンク先。結果一覧ページのURLを指定する。
	Link        string
	Description string
}

// FeedHandler は変更履歴をRSS 2.0で配信するHTTPハンドラー。
type FeedHandler struct {
	changes ChangeReader
	config  FeedConfig
	now     func() time.Time
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(changes ChangeReader, config FeedConfig) *FeedHandler {
	if config.Title == "" {
		config.Title = "resultwatch"
	}
	if config.Description == "" {
		config.Description = "Result declarations and date changes"
	}
	return &FeedHandler{
		changes: changes,
		config:  config,
		now:     time.Now,
	}
}

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link,omitempty"`
	Description string  `xml:"description"`
	Category    string  `xml:"category"`
	GUID        rssGUID `xml:"guid"`
	PubDate     string  `xml:"pubDate"`
}

type rssGUID struct {
	Value       string `xml:",chardata"`
	IsPermaLink bool   `xml:"isPermaLink,attr"`
}

// ServeFeed は直近の変更履歴をRSS 2.0で返す。
// GET /feed.xml
func (h *FeedHandler) ServeFeed(w http.ResponseWriter, r *http.Request) {
	entries, err := h.changes.ListRecent(r.Context(), feedItemLimit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	doc := rssDocument{
		Version: "2.0",
		Channel: rssChannel{
			Title:         h.config.Title,
			Link:          h.config.Link,
			Description:   h.config.Description,
			LastBuildDate: h.now().UTC().Format(time.RFC1123Z),
			Items:         make([]rssItem, 0, len(entries)),
		},
	}
	for _, entry := range entries {
		doc.Channel.Items = append(doc.Channel.Items, h.toItem(entry))
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		slog.Error("RSSの書き込みに失敗しました", slog.String("error", err.Error()))
	}
}

func (h *FeedHandler) toItem(entry model.ChangeLogEntry) rssItem {
	msg := notify.FormatMessage(entry)
	return rssItem{
		Title:       msg.Text(),
		Link:        h.config.Link,
		Description: msg.Body,
		Category:    string(entry.ChangeType),
		GUID: rssGUID{
			Value: "resultwatch-change-" + strconv.FormatInt(entry.ID, 10),
		},
		PubDate: entry.CreatedAt.UTC().Format(time.RFC1123Z),
	}
}
