package schedule

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed calendar.yaml
var calendarData []byte

// Country is one entry of the calendar data file.
type Country struct {
	Timezone string   `yaml:"timezone"`
	Holidays []string `yaml:"holidays"`
}

type calendarFile struct {
	Version               string             `yaml:"version"`
	DefaultTimezone       string             `yaml:"default_timezone"`
	DefaultCountry        string             `yaml:"default_country"`
	FridaySaturdayWeekend []string           `yaml:"friday_saturday_weekend"`
	Countries             map[string]Country `yaml:"countries"`
}

// Calendar holds the per-country timezone, weekend and holiday tables.
type Calendar struct {
	Version         string
	defaultTimezone string
	defaultCountry  string
	fridayWeekend   map[string]bool
	timezones       map[string]string
	holidays        map[string]map[string]bool

	mu        sync.Mutex
	locations map[string]*time.Location
}

// LoadCalendar parses a calendar data file.
func LoadCalendar(data []byte) (*Calendar, error) {
	var f calendarFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}
	if f.DefaultTimezone == "" {
		return nil, fmt.Errorf("calendar %q: default_timezone is required", f.Version)
	}
	if _, err := time.LoadLocation(f.DefaultTimezone); err != nil {
		return nil, fmt.Errorf("calendar %q: %w", f.Version, err)
	}

	c := &Calendar{
		Version:         f.Version,
		defaultTimezone: f.DefaultTimezone,
		defaultCountry:  strings.ToUpper(f.DefaultCountry),
		fridayWeekend:   make(map[string]bool),
		timezones:       make(map[string]string),
		holidays:        make(map[string]map[string]bool),
		locations:       make(map[string]*time.Location),
	}
	for _, code := range f.FridaySaturdayWeekend {
		c.fridayWeekend[strings.ToUpper(code)] = true
	}
	for code, country := range f.Countries {
		code = strings.ToUpper(code)
		if country.Timezone != "" {
			c.timezones[code] = country.Timezone
		}
		if len(country.Holidays) == 0 {
			continue
		}
		days := make(map[string]bool, len(country.Holidays))
		for _, d := range country.Holidays {
			if _, err := time.Parse(dateLayout, d); err != nil {
				return nil, fmt.Errorf("calendar %q: country %s: bad holiday %q", f.Version, code, d)
			}
			days[d] = true
		}
		c.holidays[code] = days
	}
	return c, nil
}

var (
	defaultCalendar     *Calendar
	defaultCalendarOnce sync.Once
)

// DefaultCalendar returns the calendar compiled into the binary.
func DefaultCalendar() *Calendar {
	defaultCalendarOnce.Do(func() {
		c, err := LoadCalendar(calendarData)
		if err != nil {
			panic(err)
		}
		defaultCalendar = c
	})
	return defaultCalendar
}

// Location resolves the timezone to evaluate in. An explicit valid timezone
// wins, then the country's default, then the calendar default.
func (c *Calendar) Location(countryCode, timezone string) *time.Location {
	candidates := []string{timezone, c.timezones[strings.ToUpper(countryCode)], c.defaultTimezone}
	for _, name := range candidates {
		if name == "" {
			continue
		}
		if loc, ok := c.location(name); ok {
			return loc
		}
	}
	return time.UTC
}

func (c *Calendar) location(name string) (*time.Location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if loc, ok := c.locations[name]; ok {
		return loc, loc != nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		c.locations[name] = nil
		return nil, false
	}
	c.locations[name] = loc
	return loc, true
}

// IsWeekend uses Friday+Saturday for the configured Middle-East countries.
func (c *Calendar) IsWeekend(countryCode string, day time.Weekday) bool {
	if c.fridayWeekend[strings.ToUpper(countryCode)] {
		return day == time.Friday || day == time.Saturday
	}
	return day == time.Saturday || day == time.Sunday
}

// IsHoliday checks a local YYYY-MM-DD date against the country's holiday set,
// falling back to the default country when the country has none.
func (c *Calendar) IsHoliday(countryCode, date string) bool {
	days, ok := c.holidays[strings.ToUpper(countryCode)]
	if !ok {
		days = c.holidays[c.defaultCountry]
	}
	return days[date]
}
