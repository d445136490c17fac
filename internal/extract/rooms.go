package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxRooms bounds the room list; beyond this the page is listing rate
// plans, not distinct units.
const maxRooms = 20

var (
	roomRowClassRe  = regexp.MustCompile(`(?i)room|hprt`)
	roomNameClassRe = regexp.MustCompile(`(?i)room.?name|room.?title|room.?type`)
	priceClassRe    = regexp.MustCompile(`(?i)price|rate`)
)

// extractRooms walks four sources in order, stopping at the first that
// yields anything: the legacy maxotelRoomArea block, modern roomType
// test-ids, the legacy HPRT table, and JSON-LD containsPlace.
func (e *Extractor) extractRooms() []Room {
	var rooms []Room
	seen := make(map[string]bool)

	add := func(name, price, capacity, beds string) {
		name = strings.TrimSpace(name)
		if len(name) < 3 || seen[name] || len(rooms) >= maxRooms {
			return
		}
		seen[name] = true
		rooms = append(rooms, Room{
			Name:     name,
			Price:    strings.TrimSpace(price),
			Capacity: strings.TrimSpace(capacity),
			Beds:     strings.TrimSpace(beds),
		})
	}

	if area := e.doc.Find("#maxotelRoomArea"); area.Length() > 0 {
		area.Find("tr, div").Each(func(_ int, row *goquery.Selection) {
			cls, _ := row.Attr("class")
			if !roomRowClassRe.MatchString(cls) {
				return
			}
			name := findByClassRe(row, roomNameClassRe)
			if name == "" {
				return
			}
			add(name, findByClassRe(row, priceClassRe), "", "")
		})
	}

	if len(rooms) == 0 {
		e.doc.Find(`[data-testid*="roomType"], [data-testid*="room-block"], [data-testid*="room-row"]`).
			Each(func(_ int, container *goquery.Selection) {
				name := container.Find(`[data-testid*="room-name"], [data-testid*="room-type-name"]`).First().Text()
				if strings.TrimSpace(name) == "" {
					name = container.Find("h3, h4, strong").First().Text()
				}
				price := container.Find(`[data-testid*="price"]`).First().Text()
				add(name, price, "", "")
			})
	}

	if len(rooms) == 0 {
		e.doc.Find(`[class*="hprt-table-room"], [class*="roomtype"], [class*="roomType"]`).
			Each(func(_ int, row *goquery.Selection) {
				add(findByClassRe(row, roomNameClassRe), "", "", "")
			})
	}

	if len(rooms) == 0 {
		for _, name := range e.jsonLDContainedRooms() {
			add(name, "", "", "")
		}
	}

	return rooms
}

// findByClassRe returns the text of the first descendant whose class
// attribute matches re.
func findByClassRe(s *goquery.Selection, re *regexp.Regexp) string {
	var out string
	s.Find("[class]").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		cls, _ := el.Attr("class")
		if re.MatchString(cls) {
			out = strings.TrimSpace(el.Text())
			return out == ""
		}
		return true
	})
	return out
}
