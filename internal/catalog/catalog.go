// Package catalog holds the static service reference data (services,
// sectors, price tables and lead times) used to validate service selections
// and to fill quote templates.
package catalog

import (
	"embed"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogFS embed.FS

// MaxQuantity bounds numeric answers such as square meters or electrical
// points.
const MaxQuantity = 100000

// Service is one offered service. Key is the value used by forms, quick
// replies and topic detection.
type Service struct {
	Key         string   `yaml:"key" json:"id"`
	Name        string   `yaml:"name" json:"nombre"`
	Aliases     []string `yaml:"aliases" json:"-"`
	Description string   `yaml:"description" json:"descripcion"`
	PriceFrom   int      `yaml:"price_from" json:"precio_desde"`
	Unit        string   `yaml:"unit" json:"unidad"`
}

// Sector is an ITSE business sector with its price range.
type Sector struct {
	Key      string `yaml:"key"`
	Min      int    `yaml:"min"`
	Max      int    `yaml:"max"`
	LeadTime string `yaml:"lead_time"`
	Risk     string `yaml:"risk"`
}

// Plan is a maintenance plan.
type Plan struct {
	Price  int `yaml:"price"`
	Visits int `yaml:"visits"`
}

// Automation holds automation system and package prices.
type Automation struct {
	Base     int            `yaml:"base"`
	Systems  map[string]int `yaml:"systems"`
	Packages map[string]int `yaml:"packages"`
}

// Catalog is the full reference data set. It is read-only after Load.
type Catalog struct {
	Services         []Service       `yaml:"services"`
	Sectors          []Sector        `yaml:"sectors"`
	PointPrices      map[string]int  `yaml:"point_prices"`
	Automation       Automation      `yaml:"automation"`
	MaintenancePlans map[string]Plan `yaml:"maintenance_plans"`

	byKey map[string]int
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	data, err := catalogFS.ReadFile("catalog.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded catalog: %w", err)
	}
	return Parse(data)
}

// MustLoad is Load for package-level initialization and tests.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse decodes and indexes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(c.Services) == 0 {
		return nil, fmt.Errorf("catalog has no services")
	}

	c.byKey = make(map[string]int, len(c.Services))
	for i, s := range c.Services {
		if s.Key == "" {
			return nil, fmt.Errorf("catalog service %d has no key", i)
		}
		if _, dup := c.byKey[s.Key]; dup {
			return nil, fmt.Errorf("duplicate catalog service %q", s.Key)
		}
		c.byKey[s.Key] = i
	}
	return &c, nil
}

// Keys returns the service keys in catalog order.
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.Services))
	for i, s := range c.Services {
		keys[i] = s.Key
	}
	return keys
}

// Service returns the service with the given key.
func (c *Catalog) Service(key string) (Service, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return Service{}, false
	}
	return c.Services[i], true
}

// IsServiceKey reports whether key names a catalog service.
func (c *Catalog) IsServiceKey(key string) bool {
	_, ok := c.byKey[key]
	return ok
}

// Sector returns the ITSE sector with the given key.
func (c *Catalog) Sector(key string) (Sector, bool) {
	for _, s := range c.Sectors {
		if s.Key == key {
			return s, true
		}
	}
	return Sector{}, false
}

// DetectTopic returns the first service whose key or alias occurs in input.
// Matching is case and accent insensitive; services are tried in catalog order.
func (c *Catalog) DetectTopic(input string) (string, bool) {
	text := Normalize(input)
	if text == "" {
		return "", false
	}
	for _, s := range c.Services {
		if strings.Contains(text, s.Key) {
			return s.Key, true
		}
		for _, alias := range s.Aliases {
			if a := Normalize(alias); a != "" && strings.Contains(text, a) {
				return s.Key, true
			}
		}
	}
	return "", false
}

// Estimate derives quote template values for a topic from the fields
// collected so far. Values that cannot be derived are left out so the
// template renderer marks them as missing.
func (c *Catalog) Estimate(topic string, fields map[string]string) map[string]string {
	out := make(map[string]string)
	svc, ok := c.Service(topic)
	if !ok {
		return out
	}
	out["servicio_nombre"] = svc.Name
	out["descripcion"] = svc.Description
	out["desde"] = strconv.Itoa(svc.PriceFrom)
	out["unidad"] = svc.Unit

	switch topic {
	case "itse":
		if sector, ok := c.Sector(Normalize(fields["sector"])); ok {
			out["min"] = strconv.Itoa(sector.Min)
			out["max"] = strconv.Itoa(sector.Max)
			out["tiempo"] = sector.LeadTime
			out["riesgo"] = sector.Risk
		}

	case "instalacion":
		use := Normalize(fields["uso"])
		price, ok := c.PointPrices[use]
		if !ok {
			break
		}
		out["precio_punto"] = strconv.Itoa(price)
		if points, err := strconv.Atoi(strings.TrimSpace(fields["puntos"])); err == nil && points > 0 && points <= MaxQuantity {
			out["total"] = strconv.Itoa(points * price)
		}

	case "automatizacion":
		system := Normalize(fields["sistema"])
		if price, ok := c.Automation.Packages[system]; ok {
			out["total"] = strconv.Itoa(price)
		} else if price, ok := c.Automation.Systems[system]; ok {
			out["total"] = strconv.Itoa(price)
		} else if system != "" {
			out["total"] = strconv.Itoa(c.Automation.Base)
		}

	case "mantenimiento":
		if plan, ok := c.MaintenancePlans[Normalize(fields["frecuencia"])]; ok {
			out["total"] = strconv.Itoa(plan.Price)
			out["visitas"] = strconv.Itoa(plan.Visits)
		}
	}
	return out
}

// Normalize lowercases s, strips diacritics and collapses whitespace.
func Normalize(s string) string {
	// transform chains carry state and cannot be shared between goroutines.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
