package widget

import (
	"fmt"

	"dario.cat/mergo"
)

// Theme describes the widget's look. Zero fields in a partial theme leave
// the current value alone.
type Theme struct {
	PrimaryColor    string `json:"primaryColor,omitempty"`
	SecondaryColor  string `json:"secondaryColor,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	TextColor       string `json:"textColor,omitempty"`
	Position        string `json:"position,omitempty"` // bottom-right, bottom-left
	Width           int    `json:"width,omitempty"`
}

// DefaultTheme returns the built-in theme.
func DefaultTheme() Theme {
	return Theme{
		PrimaryColor:    "#4f46e5",
		SecondaryColor:  "#e0e7ff",
		BackgroundColor: "#ffffff",
		TextColor:       "#111827",
		Position:        "bottom-right",
		Width:           360,
	}
}

// Merge returns t with the non-zero fields of partial applied.
func (t Theme) Merge(partial Theme) (Theme, error) {
	if err := mergo.Merge(&t, partial, mergo.WithOverride); err != nil {
		return t, fmt.Errorf("merge theme: %w", err)
	}
	return t, nil
}
