package config

// DomainConfig holds the configurable limits of a lesson map.
type DomainConfig struct {
	// Graph defaults
	DefaultGraphName      string
	DefaultSubject        string
	DefaultLessonCount    int
	DefaultLessonDuration int // minutes
	DefaultLinkLabel      string

	// Graph limits
	MaxCardsPerGraph int
	MaxLinksPerGraph int

	// Card constraints
	MaxTitleLength       int
	MaxDescriptionLength int
	MaxSourcesPerCard    int

	// Agent limits
	MaxInstructionLength int
	MaxSplitCards        int
	MaxConnectedCards    int
	MaxGeneratedCards    int
	MaxHistoryMessages   int

	// Layout of cards created by a split, relative to the card they replace
	SplitOffsetX float64
	SplitOffsetY float64

	// Cards added to a whole graph go in a new column this far right of the
	// rightmost card, SplitOffsetY apart.
	GeneratedColumnGap float64

	AllowSelfLinks bool
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		DefaultGraphName:      "New canvas",
		DefaultSubject:        "Other",
		DefaultLessonCount:    1,
		DefaultLessonDuration: 45,
		DefaultLinkLabel:      "related",

		MaxCardsPerGraph: 500,
		MaxLinksPerGraph: 2000,

		MaxTitleLength:       200,
		MaxDescriptionLength: 20000,
		MaxSourcesPerCard:    50,

		MaxInstructionLength: 4000,
		MaxSplitCards:        12,
		MaxConnectedCards:    30,
		MaxGeneratedCards:    20,
		MaxHistoryMessages:   20,

		SplitOffsetX: 0,
		SplitOffsetY: 140,

		GeneratedColumnGap: 320,

		AllowSelfLinks: false,
	}
}

// DevelopmentDomainConfig relaxes limits for local work.
func DevelopmentDomainConfig() *DomainConfig {
	cfg := DefaultDomainConfig()
	cfg.MaxCardsPerGraph = 5000
	cfg.MaxLinksPerGraph = 20000
	cfg.AllowSelfLinks = true
	return cfg
}

// LoadDomainConfig picks a configuration by environment name.
func LoadDomainConfig(environment string) *DomainConfig {
	switch environment {
	case "development", "local":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}
