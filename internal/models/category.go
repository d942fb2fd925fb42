package models

type Category struct {
	CategoryID        string `json:"category_id"`
	Name              string `json:"name"`
	Prefix            string `json:"prefix"`
	Description       string `json:"description,omitempty"`
	MaxPerDay         int    `json:"max_per_day"`
	AvgServiceSeconds int    `json:"avg_service_seconds"`
}
