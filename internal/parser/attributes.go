package parser

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
)

// Text is the normalised input the attribute matchers run against.
type Text struct {
	Title string
	Full  string
}

// NewText joins title and description and normalises them to NFC.
func NewText(title, description string) Text {
	t := normalizeText(title)
	return Text{
		Title: t,
		Full:  t + "\n" + normalizeText(description),
	}
}

var spaceReplacer = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\u00a0", " ",
	"\u202f", " ",
	"\u2009", " ",
	"\u00d7", "x",
)

func normalizeText(s string) string {
	return spaceReplacer.Replace(norm.NFC.String(s))
}

type Axle int

const (
	AxleUnknown Axle = iota
	AxleFront
	AxleRear
)

type Match struct {
	Value string
	Axle  Axle
}

// Matcher yields candidate values in text order. An empty result means the
// matcher did not apply.
type Matcher interface {
	Match(t Text) []Match
}

// Rule fills one attribute from the first matcher that yields a value.
type Rule struct {
	Attribute models.Attribute
	Matchers  []Matcher
}

// AxleRule fills a front/rear pair. Labelled values go to their axle,
// unlabelled ones fill the front first and then the rear.
type AxleRule struct {
	Front    models.Attribute
	Rear     models.Attribute
	Matchers []Matcher
}

// DerivedRule computes Target from an already extracted Source value.
type DerivedRule struct {
	Target models.Attribute
	Source models.Attribute
	Derive func(string) string
}

type regexMatcher struct {
	re        *regexp.Regexp
	all       bool
	titleOnly bool
	distinct  bool
	value     func(sub []string) string
	accept    func(v string) bool
}

func (m *regexMatcher) Match(t Text) []Match {
	text := t.Full
	if m.titleOnly {
		text = t.Title
	}

	n := 1
	if m.all {
		n = -1
	}

	var out []Match
	seen := make(map[string]bool)
	for _, sub := range m.re.FindAllStringSubmatch(text, n) {
		v := cleanValue(m.value(sub))
		if v == "" || (m.accept != nil && !m.accept(v)) {
			continue
		}
		if m.distinct {
			if seen[v] {
				continue
			}
			seen[v] = true
		}
		out = append(out, Match{Value: v, Axle: m.axle(sub)})
	}
	return out
}

func (m *regexMatcher) axle(sub []string) Axle {
	i := m.re.SubexpIndex("axle")
	if i < 0 || i >= len(sub) {
		return AxleUnknown
	}
	switch strings.ToLower(sub[i]) {
	case "vorderachse", "vorne", "va":
		return AxleFront
	case "hinterachse", "hinten", "ha":
		return AxleRear
	}
	return AxleUnknown
}

type matcherOption func(*regexMatcher)

func allMatches() matcherOption { return func(m *regexMatcher) { m.all = true } }
func distinct() matcherOption   { return func(m *regexMatcher) { m.distinct = true } }
func inTitle() matcherOption    { return func(m *regexMatcher) { m.titleOnly = true } }

func mapValue(fn func(string) string) matcherOption {
	return func(m *regexMatcher) {
		get := m.value
		m.value = func(sub []string) string { return fn(get(sub)) }
	}
}

func acceptIf(fn func(string) bool) matcherOption {
	return func(m *regexMatcher) { m.accept = fn }
}

// pattern compiles expr and reads the value from the group named "v".
func pattern(expr string, opts ...matcherOption) Matcher {
	re := regexp.MustCompile(expr)
	idx := re.SubexpIndex("v")
	m := &regexMatcher{
		re: re,
		value: func(sub []string) string {
			if idx < 0 || idx >= len(sub) {
				return ""
			}
			return sub[idx]
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

const (
	hs       = `[ \t]*`
	sep      = hs + `:?` + hs
	axle     = `(?:[ \t]*(?P<axle>vorderachse|hinterachse|vorne|hinten|va|ha)\b)?`
	textVal  = `(?P<v>[\p{L}\d][\p{L}\d\-\.& \t]*)`
	wordVal  = `(?P<v>\p{L}[\p{L}\- \t]*)`
	notAlpha = `(?:^|[^\p{L}\d])`
)

var rimBrands = []string{
	"Mercedes-Benz", "Mercedes", "AMG", "BMW", "Audi", "VW", "Volkswagen", "Porsche",
	"Mini", "Seat", "Skoda", "Cupra", "Opel", "Ford", "Toyota", "Tesla", "Volvo",
	"OZ Racing", "OZ", "BBS", "Borbet", "Rial", "Alutec", "Dezent", "Brock", "Ronal",
	"MAM", "Keskin", "Autec", "AEZ", "Dotz", "MAK", "Vossen", "Enkei", "ATS",
	"Momo", "Diewe", "Proline", "Rondell",
}

var tireBrands = []string{
	"Michelin", "Continental", "Pirelli", "Bridgestone", "Dunlop", "Goodyear",
	"Hankook", "Nokian", "Vredestein", "Falken", "Yokohama", "Kumho", "Nexen",
	"Firestone", "Semperit", "Uniroyal", "Toyo", "Barum", "Fulda", "Kleber",
	"BFGoodrich", "Maxxis", "Sava", "Laufenn", "Kormoran", "Matador", "GT Radial",
}

var colors = []string{
	"schwarz", "silber", "anthrazit", "weiß", "weiss", "gold", "bronze", "grau",
	"gunmetal", "chrom", "titan", "hypersilber", "rot", "blau",
}

// titleStopWords are leading title words that name the product, not a maker.
var titleStopWords = map[string]bool{
	"felge": true, "felgen": true, "alufelge": true, "alufelgen": true,
	"stahlfelgen": true, "räder": true, "reifen": true, "satz": true,
	"kompletträder": true, "komplettradsatz": true, "komplettsatz": true,
	"sommerreifen": true, "winterreifen": true, "allwetterreifen": true,
	"ganzjahresreifen": true, "sommerräder": true, "winterräder": true,
	"sommerkompletträder": true, "winterkompletträder": true,
	"original": true, "orig": true, "neu": true, "neue": true, "neuwertig": true,
	"top": true, "set": true, "verkaufe": true, "biete": true, "zoll": true,
}

// labelWords end a free-text value that runs into the next label on the
// same line.
var labelWords = []string{
	"felgenhersteller", "reifenhersteller", "hersteller", "felgenfarbe", "farbe",
	"zoll", "lochkreis", "einpresstiefe", "reifengröße", "reifengroesse", "maße",
	"profiltiefe", "dot", "saison", "reifensaison", "nabendurchmesser",
	"mittenlochbohrung", "spezifikation", "felgen", "reifen",
}

func alternation(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(quoted, "|")
}

func cutAtLabel(v string) string {
	fields := strings.Fields(v)
	for i, f := range fields {
		if i == 0 {
			continue
		}
		lower := strings.ToLower(strings.TrimRight(f, ":"))
		for _, l := range labelWords {
			if lower == l || (strings.HasPrefix(lower, l) && len(lower) > len(l)+2 && strings.HasSuffix(f, ":")) {
				return strings.Join(fields[:i], " ")
			}
		}
	}
	return v
}

func cleanValue(v string) string {
	v = strings.Join(strings.Fields(v), " ")
	return strings.Trim(v, " -.,;:")
}

func commaToDot(v string) string {
	return strings.ReplaceAll(v, ",", ".")
}

func compactSpaces(v string) string {
	return strings.Join(strings.Fields(v), "")
}

var tireSizeParts = regexp.MustCompile(`(?i)^(\d{3})/(\d{2})\s*(Z?R)?\s*(\d{2})$`)

// normalizeTireSize rewrites sizes like "225/45r17" as "225/45 R17".
func normalizeTireSize(v string) string {
	m := tireSizeParts.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return v
	}
	construction := strings.ToUpper(m[3])
	if construction == "" {
		construction = "R"
	}
	return m[1] + "/" + m[2] + " " + construction + m[4]
}

func tireWidth(size string) string {
	before, _, ok := strings.Cut(size, "/")
	if !ok {
		return ""
	}
	return strings.TrimSpace(before)
}

func season(v string) string {
	lower := strings.ToLower(v)
	switch {
	case strings.HasPrefix(lower, "sommer"):
		return "Sommer"
	case strings.HasPrefix(lower, "winter"):
		return "Winter"
	case lower != "":
		return "Ganzjahr"
	}
	return ""
}

func notTitleStopWord(v string) bool {
	return !titleStopWords[strings.ToLower(v)]
}

const tireSize = `\d{3}/\d{2}` + hs + `Z?R?` + hs + `\d{2}`

// DefaultRules is the attribute rule table for wheel and tyre listings.
func DefaultRules() ([]Rule, []AxleRule, []DerivedRule) {
	rules := []Rule{
		{
			Attribute: models.AttrFelgenhersteller,
			Matchers: []Matcher{
				pattern(`(?i)felgenhersteller`+sep+textVal, mapValue(cutAtLabel)),
				pattern(`(?i)\bfelgen`+hs+`:`+hs+textVal, mapValue(cutAtLabel)),
				pattern(notAlpha+`(?P<v>`+alternation(rimBrands)+`)\b`),
				pattern(`^(?:Original[ \t]+)?(?P<v>\p{Lu}[\p{L}]+)`, inTitle(), acceptIf(notTitleStopWord)),
			},
		},
		{
			Attribute: models.AttrReifenhersteller,
			Matchers: []Matcher{
				pattern(`(?i)reifenhersteller`+sep+textVal, mapValue(cutAtLabel)),
				pattern(`(?i)(?P<rim>felgen[ \t-]*)?\bhersteller`+hs+`:`+hs+textVal,
					mapValue(cutAtLabel), unlessGroup("rim")),
				pattern(notAlpha+`(?P<v>`+alternation(tireBrands)+`)\b`),
			},
		},
		{
			Attribute: models.AttrFelgenfarbe,
			Matchers: []Matcher{
				pattern(`(?i)pulverbeschichtung in der farbe`+hs+wordVal, mapValue(cutAtLabel)),
				pattern(`(?i)farbe`+sep+wordVal, mapValue(cutAtLabel)),
				pattern(`(?i)`+notAlpha+`(?P<v>`+alternation(colors)+`)(?:e[nrs]?)?(?:[^\p{L}]|$)`),
			},
		},
		{
			Attribute: models.AttrZollgroesse,
			Matchers: []Matcher{
				pattern(`(?i)zollgr(?:ö|oe)(?:ß|ss)e`+sep+`(?P<v>\d{1,2})`),
				pattern(`(?i)\bzoll`+hs+`:`+hs+`(?P<v>\d{1,2})`),
				pattern(`(?i)(?:^|[^\d])(?P<v>\d{1,2})(?:[,.]5)?`+hs+`(?:zoll|")`),
				pattern(`(?i)\d{3}/\d{2}`+hs+`Z?R`+hs+`(?P<v>\d{2})`),
				pattern(`(?:^|[^\p{L}\d])R(?P<v>1[3-9]|2[0-4])\b`),
			},
		},
		{
			Attribute: models.AttrLochkreis,
			Matchers: []Matcher{
				pattern(`(?i)lochkreis`+sep+`(?:LK`+hs+`)?(?P<v>\d{1,2}`+hs+`[x/]`+hs+`\d{2,3}(?:[.,]\d{1,2})?|\d{2,3}(?:[.,]\d{1,2})?)`,
					mapValue(func(v string) string { return commaToDot(compactSpaces(v)) })),
				pattern(`(?i)(?:^|[^\p{L}\d]|lk)(?P<n>[3-8])`+hs+`x`+hs+`(?P<d>\d{3}(?:[.,]\d{1,2})?)(?P<slash>/)?`,
					allMatches(), withLochkreisParts()),
			},
		},
		{
			Attribute: models.AttrNabendurchmesser,
			Matchers: []Matcher{
				pattern(`(?i)(?:mittenlochbohrung|nabendurchmesser|nabenbohrung|mittenloch)`+sep+`(?P<v>\d{2,3}(?:[.,]\d{1,2})?)`, mapValue(commaToDot)),
				pattern(`(?:^|[^\p{L}])ML`+sep+`(?P<v>\d{2,3}(?:[.,]\d{1,2})?)`, mapValue(commaToDot)),
			},
		},
		{
			Attribute: models.AttrReifensaison,
			Matchers: []Matcher{
				pattern(`(?i)(?:reifensaison|saison|spezifikation)`+sep+wordVal, mapValue(cutAtLabel)),
				pattern(`(?i)(?P<v>sommer|winter|ganzjahres|allwetter|all[ -]?season)`, mapValue(season)),
			},
		},
	}

	axleRules := []AxleRule{
		{
			Front: models.AttrEinpresstiefeVorderachse,
			Rear:  models.AttrEinpresstiefeHinterachse,
			Matchers: []Matcher{
				pattern(`(?i)einpresstiefe`+axle+sep+`(?:ET`+hs+`)?(?P<v>\d{1,3})`, allMatches()),
				pattern(`(?:^|[^\p{L}])ET`+sep+`(?P<v>\d{1,3})`, allMatches()),
			},
		},
		{
			Front: models.AttrReifengroesseVorderachse,
			Rear:  models.AttrReifengroesseHinterachse,
			Matchers: []Matcher{
				pattern(`(?i)(?:reifengr(?:ö|oe)(?:ß|ss)e|ma(?:ß|ss)e|reifen)`+axle+sep+`(?P<v>`+tireSize+`)`,
					allMatches(), mapValue(normalizeTireSize)),
				pattern(`(?i)(?P<v>\d{3}/\d{2}`+hs+`Z?R`+hs+`\d{2})`,
					allMatches(), distinct(), mapValue(normalizeTireSize)),
			},
		},
		{
			Front: models.AttrProfiltiefeVorderachse,
			Rear:  models.AttrProfiltiefeHinterachse,
			Matchers: []Matcher{
				pattern(`(?i)profil(?:tiefe)?`+axle+sep+`(?P<v>\d{1,2}(?:[.,]\d{1,2})?(?:`+hs+`(?:-|bis)`+hs+`\d{1,2}(?:[.,]\d{1,2})?)?`+hs+`(?:mm)?)`,
					allMatches()),
				pattern(`(?i)(?P<v>\d{1,2}(?:[.,]\d{1,2})?`+hs+`mm)`+hs+`(?:rest)?profil`, allMatches()),
			},
		},
		{
			Front: models.AttrDOTVorderachse,
			Rear:  models.AttrDOTHinterachse,
			Matchers: []Matcher{
				pattern(`(?i)(?:^|[^\p{L}])dot`+axle+sep+`(?P<v>\d{2}/?\d{2})`, allMatches()),
			},
		},
	}

	derived := []DerivedRule{
		{Target: models.AttrReifenbreiteVorderachse, Source: models.AttrReifengroesseVorderachse, Derive: tireWidth},
		{Target: models.AttrReifenbreiteHinterachse, Source: models.AttrReifengroesseHinterachse, Derive: tireWidth},
	}

	return rules, axleRules, derived
}

// unlessGroup drops a match whose named group captured anything.
func unlessGroup(name string) matcherOption {
	return func(m *regexMatcher) {
		i := m.re.SubexpIndex(name)
		get := m.value
		m.value = func(sub []string) string {
			if i >= 0 && i < len(sub) && sub[i] != "" {
				return ""
			}
			return get(sub)
		}
	}
}

// withLochkreisParts joins bolt count and circle into "5x112".
func withLochkreisParts() matcherOption {
	return func(m *regexMatcher) {
		n, d := m.re.SubexpIndex("n"), m.re.SubexpIndex("d")
		slash := m.re.SubexpIndex("slash")
		m.value = func(sub []string) string {
			// "4x 225/45" is a tyre count, not a bolt pattern
			if sub[slash] != "" {
				return ""
			}
			return sub[n] + "x" + commaToDot(sub[d])
		}
	}
}

// Extractor applies rule tables to listing text.
type Extractor struct {
	rules     []Rule
	axleRules []AxleRule
	derived   []DerivedRule
}

func NewExtractor() *Extractor {
	rules, axleRules, derived := DefaultRules()
	return &Extractor{rules: rules, axleRules: axleRules, derived: derived}
}

// Extract returns a value for every attribute in the vocabulary; attributes
// with no match map to "".
func (e *Extractor) Extract(t Text) map[models.Attribute]string {
	out := make(map[models.Attribute]string, len(models.Attributes))
	for _, a := range models.Attributes {
		out[a] = ""
	}

	for _, r := range e.rules {
		for _, m := range r.Matchers {
			if matches := m.Match(t); len(matches) > 0 {
				out[r.Attribute] = matches[0].Value
				break
			}
		}
	}

	for _, r := range e.axleRules {
		for _, m := range r.Matchers {
			matches := m.Match(t)
			if len(matches) == 0 {
				continue
			}
			front, rear := splitAxles(matches)
			out[r.Front] = front
			out[r.Rear] = rear
			break
		}
	}

	for _, d := range e.derived {
		if src := out[d.Source]; src != "" {
			out[d.Target] = d.Derive(src)
		}
	}

	return out
}

func splitAxles(matches []Match) (front, rear string) {
	var unlabelled []string
	for _, m := range matches {
		switch m.Axle {
		case AxleFront:
			if front == "" {
				front = m.Value
			}
		case AxleRear:
			if rear == "" {
				rear = m.Value
			}
		default:
			unlabelled = append(unlabelled, m.Value)
		}
	}
	for _, v := range unlabelled {
		switch {
		case front == "":
			front = v
		case rear == "":
			rear = v
		}
	}
	return front, rear
}
