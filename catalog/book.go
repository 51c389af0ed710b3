package catalog

import "time"

// Book is one title in the catalog with the number of its physical copies.
type Book struct {
	ID              string    `json:"id"              validate:"required"`
	Title           string    `json:"title"           validate:"required"`
	Author          string    `json:"author"          validate:"required"`
	ISBN            string    `json:"isbn"            validate:"required"`
	Category        string    `json:"category,omitempty"`
	Publisher       string    `json:"publisher,omitempty"`
	PublicationDate time.Time `json:"publicationDate,omitzero"`
	Price           float64   `json:"price,omitempty" validate:"gte=0"`
	Location        string    `json:"location,omitempty"`
	TotalCopies     int       `json:"totalCopies"     validate:"gte=0"`
	AvailableCopies int       `json:"availableCopies" validate:"gte=0,ltefield=TotalCopies"`
}

// OnLoan returns the number of copies currently not available.
func (b Book) OnLoan() int {
	return b.TotalCopies - b.AvailableCopies
}
