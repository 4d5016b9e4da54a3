package models

// CatalogItem is the projection shared by every kind of content.
type CatalogItem interface {
	ItemID() string
	ItemTitle() string
	Kind() ContentType
	// TotalExtent is nil when the size of the content is unknown.
	TotalExtent() *int
}

// Book is a paged textbook.
type Book struct {
	ID         string  `db:"id" json:"id"`
	Title      string  `db:"title" json:"title"`
	Publisher  *string `db:"publisher" json:"publisher,omitempty"`
	TotalPages *int    `db:"total_pages" json:"total_pages,omitempty"`
}

func (b Book) ItemID() string    { return b.ID }
func (b Book) ItemTitle() string { return b.Title }
func (b Book) Kind() ContentType { return ContentTypeBook }
func (b Book) TotalExtent() *int { return b.TotalPages }

// Lecture is an episodic video course.
type Lecture struct {
	ID            string  `db:"id" json:"id"`
	Title         string  `db:"title" json:"title"`
	Platform      *string `db:"platform" json:"platform,omitempty"`
	TotalEpisodes *int    `db:"total_episodes" json:"total_episodes,omitempty"`
}

func (l Lecture) ItemID() string    { return l.ID }
func (l Lecture) ItemTitle() string { return l.Title }
func (l Lecture) Kind() ContentType { return ContentTypeLecture }
func (l Lecture) TotalExtent() *int { return l.TotalEpisodes }

// CustomContent is a student-defined unit of work.
type CustomContent struct {
	ID              string `db:"id" json:"id"`
	Title           string `db:"title" json:"title"`
	TotalPageOrTime *int   `db:"total_page_or_time" json:"total_page_or_time,omitempty"`
}

func (c CustomContent) ItemID() string    { return c.ID }
func (c CustomContent) ItemTitle() string { return c.Title }
func (c CustomContent) Kind() ContentType { return ContentTypeCustom }
func (c CustomContent) TotalExtent() *int { return c.TotalPageOrTime }

// CatalogSummary is the JSON view of any CatalogItem.
type CatalogSummary struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	ContentType ContentType `json:"content_type"`
	TotalExtent *int        `json:"total_extent"`
	Unit        string      `json:"unit"`
}

// SummarizeCatalogItem projects an item to its JSON view.
func SummarizeCatalogItem(item CatalogItem) CatalogSummary {
	return CatalogSummary{
		ID:          item.ItemID(),
		Title:       item.ItemTitle(),
		ContentType: item.Kind(),
		TotalExtent: item.TotalExtent(),
		Unit:        item.Kind().Unit(),
	}
}
