// Package user_agent classifies User-Agent strings using embedded rulesets
// in the device-detector format.
package user_agent

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

var titleCaser = cases.Title(language.English)

type UserAgent struct {
	UserAgent string
	OS        string
	Browser   string
	Device    string
	Mobile    bool
	Tablet    bool
	Desktop   bool
	Spider    bool
	Bot       bool
}

//go:embed database/bots.yml
//go:embed database/oss.yml
//go:embed database/browsers.yml
//go:embed database/devices.yml
var databaseFiles embed.FS

type BrowserEntry struct {
	Regex   string `yaml:"regex"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type OSEntry struct {
	Regex   string `yaml:"regex"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type DeviceModel struct {
	Regex  string `yaml:"regex"`
	Model  string `yaml:"model"`
	Device string `yaml:"device"`
}

type DeviceEntry struct {
	Regex  string        `yaml:"regex"`
	Device string        `yaml:"device"`
	Model  string        `yaml:"model"`
	Models []DeviceModel `yaml:"models"`
}

type BotEntry struct {
	Regex    string `yaml:"regex"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	URL      string `yaml:"url"`
}

type regexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *regexCache {
	return &regexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *regexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

var (
	parser *agentParser
	once   sync.Once
)

type agentParser struct {
	browsers []BrowserEntry
	oss      []OSEntry
	devices  map[string]DeviceEntry
	bots     []BotEntry
	regexes  *regexCache
}

func getParser() *agentParser {
	once.Do(func() {
		parser = &agentParser{
			regexes: newRegexCache(),
			devices: make(map[string]DeviceEntry),
		}

		if data, err := databaseFiles.ReadFile("database/browsers.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.browsers); err != nil {
				fmt.Printf("Error parsing browsers.yml: %v\n", err)
			}
		}

		if data, err := databaseFiles.ReadFile("database/oss.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.oss); err != nil {
				fmt.Printf("Error parsing oss.yml: %v\n", err)
			}
		}

		if data, err := databaseFiles.ReadFile("database/bots.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.bots); err != nil {
				fmt.Printf("Error parsing bots.yml: %v\n", err)
			}
		}

		if data, err := databaseFiles.ReadFile("database/devices.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.devices); err != nil {
				fmt.Printf("Error parsing devices.yml: %v\n", err)
			}
		}
	})
	return parser
}

func expandGroups(template string, matches []string) string {
	result := template
	for i, match := range matches[1:] {
		placeholder := fmt.Sprintf("$%d", i+1)
		result = strings.ReplaceAll(result, placeholder, match)
	}
	return result
}

func (p *agentParser) parseBot(userAgent string) *BotEntry {
	for i := range p.bots {
		if regex, err := p.regexes.get(p.bots[i].Regex); err == nil {
			if regex.MatchString(userAgent) {
				return &p.bots[i]
			}
		}
	}
	return nil
}

func (p *agentParser) parseBrowser(userAgent string) (string, string) {
	for _, entry := range p.browsers {
		if regex, err := p.regexes.get(entry.Regex); err == nil {
			if matches := regex.FindStringSubmatch(userAgent); len(matches) > 0 {
				version := ""
				if entry.Version != "" && len(matches) > 1 {
					version = expandGroups(entry.Version, matches)
				}
				return entry.Name, version
			}
		}
	}
	return "Unknown", ""
}

func (p *agentParser) parseOS(userAgent string) (string, string) {
	for _, entry := range p.oss {
		if regex, err := p.regexes.get(entry.Regex); err == nil {
			if matches := regex.FindStringSubmatch(userAgent); len(matches) > 0 {
				version := ""
				if entry.Version != "" && len(matches) > 1 {
					version = expandGroups(entry.Version, matches)
				}
				return entry.Name, version
			}
		}
	}
	return "Unknown", ""
}

// parseDevice returns the matched brand and the resolved device kind.
func (p *agentParser) parseDevice(userAgent string) (string, string) {
	for brand, entry := range p.devices {
		regex, err := p.regexes.get(entry.Regex)
		if err != nil || !regex.MatchString(userAgent) {
			continue
		}

		kind := entry.Device
		model := entry.Model

		// Models may narrow both the model name and the device kind.
		for _, modelEntry := range entry.Models {
			modelRegex, err := p.regexes.get(modelEntry.Regex)
			if err != nil {
				continue
			}
			// pcre returns a non-nil empty slice on no match, so check length
			// rather than nil (as parseBrowser/parseOS already do).
			if matches := modelRegex.FindStringSubmatch(userAgent); len(matches) > 0 {
				model = expandGroups(modelEntry.Model, matches)
				if modelEntry.Device != "" {
					kind = modelEntry.Device
				}
				break
			}
		}

		if model == "" {
			model = brand
		}
		if kind == "" {
			kind = "unknown"
		}
		return brand, kind
	}

	// Fallback classification from common substrings.
	ua := strings.ToLower(userAgent)
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return "", "tablet"
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") ||
		strings.Contains(ua, "iphone") || strings.Contains(ua, "ipod") {
		return "", "smartphone"
	}
	return "", "desktop"
}

// ParseUserAgent classifies a User-Agent string. Known crawlers short-circuit
// to a bot result before any client parsing.
func ParseUserAgent(userAgent string) UserAgent {
	parser := getParser()

	if bot := parser.parseBot(userAgent); bot != nil {
		return UserAgent{
			UserAgent: userAgent,
			OS:        "Unknown",
			Browser:   bot.Name,
			Device:    "Bot",
			Bot:       true,
		}
	}

	browser, _ := parser.parseBrowser(userAgent)
	os, _ := parser.parseOS(userAgent)
	brand, kind := parser.parseDevice(userAgent)

	device := brand
	if device == "" {
		device = titleCaser.String(kind)
	}

	return UserAgent{
		UserAgent: userAgent,
		OS:        os,
		Browser:   browser,
		Device:    device,
		Mobile:    kind == "smartphone" || kind == "feature phone" || kind == "phablet",
		Tablet:    kind == "tablet",
		Desktop:   kind == "desktop" || kind == "notebook",
		Spider:    kind == "spider",
	}
}
