package models

// ProductRecord is one row of the product table.
type ProductRecord struct {
	Cover       string  `json:"cover"`
	Description string  `json:"description"`
	Detail      string  `json:"detail"`
	Price       string  `json:"price"`
	Rate        float64 `json:"rate"`
	Title       string  `json:"title"`
}

// Field names used when reporting selector misses.
const (
	FieldCover       = "cover"
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldDetail      = "detail"
	FieldPrice       = "price"
	FieldRate        = "rate"
)

// RawItem holds the strings extracted from one item block before normalization.
type RawItem struct {
	Cover       string
	Title       string
	Description string
	Detail      string
	PriceText   string
	RateText    string

	// Missing lists fields for which every selector attempt came back empty.
	Missing []string
	// Block is the outer HTML of the item block, only set when the cover is missing.
	Block string
}

// MarkMissing records that no selector produced a value for field.
func (r *RawItem) MarkMissing(field string) {
	r.Missing = append(r.Missing, field)
}

// IsMissing reports whether field was marked with MarkMissing.
func (r *RawItem) IsMissing(field string) bool {
	for _, f := range r.Missing {
		if f == field {
			return true
		}
	}
	return false
}
