package settings

import (
	"fmt"
	"time"
)

const (
	DefaultTheme    = "light"
	DefaultLanguage = "en"
)

var validThemes = map[string]bool{
	"light": true,
	"dark":  true,
}

// Settings holds the application-wide UI preferences. There is one row.
type Settings struct {
	Theme     string    `json:"theme"`
	Language  string    `json:"language"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func Defaults() *Settings {
	return &Settings{Theme: DefaultTheme, Language: DefaultLanguage}
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Theme    *string `json:"theme"`
	Language *string `json:"language"`
}

// Apply validates p and copies its fields onto s.
func (p Patch) Apply(s *Settings) error {
	if p.Theme != nil {
		if !validThemes[*p.Theme] {
			return fmt.Errorf("invalid theme: %q", *p.Theme)
		}
		s.Theme = *p.Theme
	}
	if p.Language != nil {
		if *p.Language == "" || len(*p.Language) > 16 {
			return fmt.Errorf("invalid language: %q", *p.Language)
		}
		s.Language = *p.Language
	}
	return nil
}
