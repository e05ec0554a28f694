package segmenter

import (
	"fmt"
	"strings"

	"github.com/readerlab/bookchat/models"
)

// Chapter is a level-1 heading and the text range it governs.
type Chapter struct {
	ID       string
	Title    string
	Start    int
	End      int
	Sections []Section
}

// Section is a level-2 heading nested under its chapter.
type Section struct {
	ID    string
	Title string
	Start int
	End   int
}

// BookOutline maps document offsets to chapter/section structure.
type BookOutline struct {
	Chapters []Chapter
}

// Outline scans markdown-style headings: "# " lines open chapters, "## " lines open
// sections within the current chapter. A document with no headings gets a single
// synthetic chapter spanning the whole text.
func Outline(text string) BookOutline {
	var out BookOutline
	if text == "" {
		return out
	}

	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(trimmed, "# "):
			title := strings.TrimSpace(trimmed[2:])
			closeChapter(&out, offset, len(text))
			out.Chapters = append(out.Chapters, Chapter{
				ID:    fmt.Sprintf("ch-%02d", len(out.Chapters)+1),
				Title: title,
				Start: offset,
				End:   len(text),
			})
		case strings.HasPrefix(trimmed, "## "):
			title := strings.TrimSpace(trimmed[3:])
			if n := len(out.Chapters); n > 0 {
				ch := &out.Chapters[n-1]
				if m := len(ch.Sections); m > 0 {
					ch.Sections[m-1].End = offset
				}
				ch.Sections = append(ch.Sections, Section{
					ID:    fmt.Sprintf("sec-%02d-%02d", n, len(ch.Sections)+1),
					Title: title,
					Start: offset,
					End:   len(text),
				})
			}
		}
		offset += len(line)
	}

	if len(out.Chapters) == 0 {
		out.Chapters = []Chapter{{ID: "ch-01", Start: 0, End: len(text)}}
	}
	return out
}

func closeChapter(out *BookOutline, at, textLen int) {
	if n := len(out.Chapters); n > 0 {
		out.Chapters[n-1].End = at
		if m := len(out.Chapters[n-1].Sections); m > 0 && out.Chapters[n-1].Sections[m-1].End == textLen {
			out.Chapters[n-1].Sections[m-1].End = at
		}
	}
}

// classify assigns chapter/section metadata to a chunk based on the chapter whose
// offset range contains the chunk's midpoint.
func (o BookOutline) classify(c *models.Chunk) {
	mid := (c.StartCharOffset + c.EndCharOffset) / 2
	for _, ch := range o.Chapters {
		if mid < ch.Start || mid >= ch.End {
			continue
		}
		c.ChapterID = ch.ID
		c.ChapterTitle = ch.Title
		if ch.Title != "" {
			c.HeadingHierarchy = append(c.HeadingHierarchy, ch.Title)
		}
		for _, sec := range ch.Sections {
			if mid >= sec.Start && mid < sec.End {
				c.SectionID = sec.ID
				c.SectionTitle = sec.Title
				if sec.Title != "" {
					c.HeadingHierarchy = append(c.HeadingHierarchy, sec.Title)
				}
				break
			}
		}
		return
	}
}
