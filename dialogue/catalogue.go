package dialogue

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AltairaLabs/callkit/reasoning"
)

// FieldSlot is one piece of information the call must elicit.
type FieldSlot struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Example     string   `yaml:"example,omitempty" json:"example,omitempty"`
	Question    string   `yaml:"question" json:"question"`
	Keywords    []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Required    bool     `yaml:"required" json:"required"`
	// Core slots end the call under the "core" completion policy.
	Core bool `yaml:"core,omitempty" json:"core,omitempty"`
	List bool `yaml:"list,omitempty" json:"list,omitempty"`
	// Priority orders questions; lower asks first.
	Priority int `yaml:"priority" json:"priority"`
}

// Catalogue is the ordered set of slots for a call.
type Catalogue struct {
	// Topic names the business being called (for example "your gym").
	Topic string      `yaml:"topic" json:"topic"`
	Slots []FieldSlot `yaml:"fields" json:"fields"`
}

// DefaultCatalogue is the gym catalogue.
func DefaultCatalogue() Catalogue {
	return Catalogue{
		Topic: "your gym",
		Slots: []FieldSlot{
			{
				Name:        "hours",
				Description: "operating hours",
				Example:     "6am-10pm",
				Question:    "What are your operating hours?",
				Keywords:    []string{"hours"},
				Required:    true,
				Core:        true,
				Priority:    1,
			},
			{
				Name:        "day_pass_price",
				Description: "day pass price",
				Example:     "$25",
				Question:    "How much is a day pass?",
				Keywords:    []string{"day pass", "price"},
				Required:    true,
				Core:        true,
				Priority:    2,
			},
			{
				Name:        "classes",
				Description: "fitness classes",
				Example:     "yoga, spin",
				Question:    "Do you offer any fitness classes?",
				Keywords:    []string{"classes"},
				Required:    true,
				List:        true,
				Priority:    3,
			},
			{
				Name:        "drop_in_policy",
				Description: "drop-in policy",
				Example:     "walk-ins welcome",
				Question:    "Can people drop in without an appointment?",
				Keywords:    []string{"drop in"},
				Required:    true,
				Priority:    4,
			},
		},
	}
}

// ParseCatalogue decodes a YAML catalogue and sorts its slots by priority.
func ParseCatalogue(data []byte) (Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalogue{}, fmt.Errorf("parse field catalogue: %w", err)
	}
	c.sort()
	if err := c.Validate(); err != nil {
		return Catalogue{}, err
	}
	return c, nil
}

// LoadCatalogue reads a YAML catalogue file.
func LoadCatalogue(path string) (Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalogue{}, fmt.Errorf("read field catalogue: %w", err)
	}
	return ParseCatalogue(data)
}

// Validate checks slot names and questions.
func (c Catalogue) Validate() error {
	if len(c.Slots) == 0 {
		return errors.New("field catalogue is empty")
	}
	seen := make(map[string]bool, len(c.Slots))
	var errs []error
	for i, s := range c.Slots {
		name := strings.TrimSpace(s.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("field %d: name is required", i))
		case seen[name]:
			errs = append(errs, fmt.Errorf("field %q: duplicate name", name))
		}
		seen[name] = true
		if strings.TrimSpace(s.Question) == "" {
			errs = append(errs, fmt.Errorf("field %q: question is required", name))
		}
	}
	return errors.Join(errs...)
}

func (c *Catalogue) sort() {
	slices.SortStableFunc(c.Slots, func(a, b FieldSlot) int {
		return a.Priority - b.Priority
	})
}

// Names returns the slot names in priority order.
func (c Catalogue) Names() []string {
	names := make([]string, len(c.Slots))
	for i, s := range c.Slots {
		names[i] = s.Name
	}
	return names
}

// Slot looks up a slot by name.
func (c Catalogue) Slot(name string) (FieldSlot, bool) {
	for _, s := range c.Slots {
		if s.Name == name {
			return s, true
		}
	}
	return FieldSlot{}, false
}

// Specs converts the slots for the reasoning collaborator.
func (c Catalogue) Specs() []reasoning.FieldSpec {
	specs := make([]reasoning.FieldSpec, len(c.Slots))
	for i, s := range c.Slots {
		specs[i] = reasoning.FieldSpec{
			Name:        s.Name,
			Description: s.Description,
			Example:     s.Example,
			Question:    s.Question,
			Keywords:    s.Keywords,
			Required:    s.Required,
			List:        s.List,
		}
	}
	return specs
}

// Completion is filled required slots over total required slots, in [0,1].
// A catalogue without required slots is complete.
func (c Catalogue) Completion(collected map[string]CollectedField) float64 {
	total, filled := 0, 0
	for _, s := range c.Slots {
		if !s.Required {
			continue
		}
		total++
		if f, ok := collected[s.Name]; ok && strings.TrimSpace(f.Display()) != "" {
			filled++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(filled) / float64(total)
}
