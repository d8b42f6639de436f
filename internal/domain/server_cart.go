package domain

// ServerCart is the wire shape exchanged with the /sync/ and /addcart/ endpoints.
// It only carries food ids: names, prices and images are lost on the way.
type ServerCart struct {
	Restaurant ID               `json:"restaurant"`
	Customer   ID               `json:"customer"`
	CreatedAt  string           `json:"created_at,omitempty"`
	UpdatedAt  string           `json:"updated_at,omitempty"`
	Items      []ServerCartLine `json:"items"`
}

type ServerCartLine struct {
	Food      ID        `json:"food"`
	Quantity  int       `json:"quantity"`
	ExtraData ExtraData `json:"extra_data"`
}

type ExtraData struct {
	SpecialRequest  string       `json:"specialRequest"`
	SelectedOptions []FoodOption `json:"selectedOptions"`
}
