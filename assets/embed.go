package assets

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ykvlv/investmate/internal/domain"
)

//go:embed seed.yaml
var seedYAML []byte

// Persona is a mock chat participant.
type Persona struct {
	Name string      `yaml:"name"`
	Rank domain.Rank `yaml:"rank"`
}

// Seed is the mock community the app starts with.
type Seed struct {
	Users             []domain.User `yaml:"users"`
	Clubs             []domain.Club `yaml:"clubs"`
	Personas          []Persona     `yaml:"personas"`
	ChatPhrases       []string      `yaml:"chat_phrases"`
	TranscriptPhrases []string      `yaml:"transcript_phrases"`
	Assistant         domain.User   `yaml:"assistant"`
}

// LoadSeed decodes the embedded seed data.
func LoadSeed() (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(seedYAML, &s); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	if len(s.Users) == 0 {
		return Seed{}, fmt.Errorf("decode seed: no users")
	}
	return s, nil
}

// MustLoadSeed is LoadSeed for tests and static wiring; it panics on a broken embed.
func MustLoadSeed() Seed {
	s, err := LoadSeed()
	if err != nil {
		panic(err)
	}
	return s
}
