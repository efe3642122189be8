// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scraper

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/internal/magnet"

	"github.com/PuerkitoBio/goquery"
)

// The catalog renders its UI in several scripts. Both semantic tag sets are
// tabled here and nowhere else so a markup change touches one file.
var (
	// Tag set (i): the entry has a Chinese-subtitle magnet.
	subtitleTags = map[string]struct{}{
		"含中字磁鏈": {},
		"含中字磁链": {},
		"CnSub DL": {},
	}

	// Tag set (ii): released today or yesterday.
	freshReleaseTags = map[string]struct{}{
		"今日新種":      {},
		"昨日新種":      {},
		"今日新种":      {},
		"昨日新种":      {},
		"Today":     {},
		"Yesterday": {},
	}
)

var (
	ratingRe   = regexp.MustCompile(`(\d+\.?\d*)分`)
	commentsRe = regexp.MustCompile(`由(\d+)人評價`)
)

const magnetTimeFormat = "2006-01-02"

// HasSubtitleTag reports whether the entry advertises a Chinese-subtitle
// magnet (tag set i).
func HasSubtitleTag(tags []string) bool {
	for _, tag := range tags {
		if _, ok := subtitleTags[strings.TrimSpace(tag)]; ok {
			return true
		}
	}
	return false
}

// HasFreshReleaseTag reports whether the entry was released today or
// yesterday (tag set ii).
func HasFreshReleaseTag(tags []string) bool {
	for _, tag := range tags {
		if _, ok := freshReleaseTags[strings.TrimSpace(tag)]; ok {
			return true
		}
	}
	return false
}

// ParseIndex extracts catalog entries from one index page. A page without
// the movie list container parses as empty, which terminates all-mode;
// per-item structure problems come back as warnings with the item skipped.
func ParseIndex(body []byte, page int) ([]domain.IndexEntry, []string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, domain.Classify(domain.KindParse, fmt.Errorf("parse index html: %w", err))
	}

	var (
		entries  []domain.IndexEntry
		warnings []string
	)

	list := doc.Find("div.movie-list")
	if list.Length() == 0 {
		warnings = append(warnings, fmt.Sprintf("page %d: no movie list container", page))
		return nil, warnings, nil
	}

	list.Find("div.item").Each(func(i int, item *goquery.Selection) {
		href, ok := item.Find("a.box").First().Attr("href")
		if !ok || href == "" {
			warnings = append(warnings, fmt.Sprintf("page %d item %d: missing link", page, i))
			return
		}

		titleSel := item.Find("div.video-title").First()
		if titleSel.Length() == 0 {
			warnings = append(warnings, fmt.Sprintf("page %d item %d: missing title block", page, i))
			return
		}
		code := strings.TrimSpace(titleSel.Find("strong").First().Text())
		title := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(titleSel.Text()), code))

		entry := domain.IndexEntry{
			Href:       href,
			VideoCode:  code,
			Title:      title,
			Page:       page,
			ReleasedAt: strings.TrimSpace(item.Find("div.meta").First().Text()),
		}

		score := item.Find("div.score span.value").First().Text()
		if m := ratingRe.FindStringSubmatch(score); m != nil {
			if rating, perr := strconv.ParseFloat(m[1], 64); perr == nil {
				entry.Rating = rating
				entry.HasRating = true
			}
		}
		if m := commentsRe.FindStringSubmatch(score); m != nil {
			entry.Comments, _ = strconv.Atoi(m[1])
		}

		item.Find("div.tags.has-addons span.tag").Each(func(_ int, tag *goquery.Selection) {
			if text := strings.TrimSpace(tag.Text()); text != "" {
				entry.Tags = append(entry.Tags, text)
			}
		})

		entries = append(entries, entry)
	})

	return entries, warnings, nil
}

// ParseDetail extracts the magnet list and remaining entry attributes from
// a detail page.
func ParseDetail(body []byte, href string) (domain.MovieDetail, []string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return domain.MovieDetail{}, nil, domain.Classify(domain.KindParse, fmt.Errorf("parse detail html: %w", err))
	}

	detail := domain.MovieDetail{Href: href}
	var warnings []string

	detail.VideoCode = strings.TrimSpace(
		doc.Find("a.button.is-white.copy-to-clipboard").First().AttrOr("data-clipboard-text", ""))
	if detail.VideoCode == "" {
		warnings = append(warnings, fmt.Sprintf("%s: missing video code button", href))
	}

	detail.Actor = firstActor(doc)

	container := doc.Find("div#magnets-content")
	if container.Length() == 0 {
		warnings = append(warnings, fmt.Sprintf("%s: missing magnet container", href))
		return detail, warnings, nil
	}

	container.Find("div.item.columns").Each(func(i int, item *goquery.Selection) {
		nameLink := item.Find("div.magnet-name a").First()
		magnetHref, ok := nameLink.Attr("href")
		if !ok || magnetHref == "" {
			warnings = append(warnings, fmt.Sprintf("%s magnet %d: missing href", href, i))
			return
		}

		m := domain.Magnet{
			Href:     magnetHref,
			Name:     strings.TrimSpace(nameLink.Find("span.name").First().Text()),
			SizeText: strings.TrimSpace(nameLink.Find("span.meta").First().Text()),
		}
		m.Size = magnet.ParseSize(m.SizeText)

		if ts := strings.TrimSpace(item.Find("span.time").First().Text()); ts != "" {
			if uploaded, perr := time.ParseInLocation(magnetTimeFormat, ts, time.Local); perr == nil {
				m.Uploaded = uploaded
			}
		}

		item.Find("div.tags span.tag").Each(func(_ int, tag *goquery.Selection) {
			if text := strings.TrimSpace(tag.Text()); text != "" {
				m.Tags = append(m.Tags, text)
			}
		})

		detail.Magnets = append(detail.Magnets, m)
	})

	if len(detail.Magnets) == 0 {
		warnings = append(warnings, fmt.Sprintf("%s: no magnets found", href))
	}

	return detail, warnings, nil
}

// firstActor returns the first performer link in the 演員 panel block.
func firstActor(doc *goquery.Document) string {
	actor := ""
	doc.Find("div.video-meta-panel div.panel-block").EachWithBreak(func(_ int, block *goquery.Selection) bool {
		label := strings.TrimSpace(block.Find("strong").First().Text())
		if !strings.HasPrefix(label, "演員") {
			return true
		}
		actor = strings.TrimSpace(block.Find("a").First().Text())
		return false
	})
	return actor
}
