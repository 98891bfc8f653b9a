package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
)

func extract(title, description string) map[models.Attribute]string {
	return NewExtractor().Extract(NewText(title, description))
}

func TestZollFromTitleOnly(t *testing.T) {
	got := extract("Felge 17 Zoll", "")

	assert.Equal(t, "17", got[models.AttrZollgroesse])
	for _, a := range models.Attributes {
		if a == models.AttrZollgroesse {
			continue
		}
		v, ok := got[a]
		assert.True(t, ok, "attribute %s must be present", a)
		assert.Equal(t, "", v, "attribute %s", a)
	}
}

func TestExtractAttributes(t *testing.T) {
	tests := []struct {
		name        string
		title       string
		description string
		attr        models.Attribute
		expected    string
	}{
		{"rim maker label", "", "Felgenhersteller: BBS", models.AttrFelgenhersteller, "BBS"},
		{"rim maker cut at next label", "", "Felgenhersteller: BMW Farbe: schwarz", models.AttrFelgenhersteller, "BMW"},
		{"rim maker from brand list", "Original Borbet Felgen", "", models.AttrFelgenhersteller, "Borbet"},
		{"rim maker from title word", "Zender Felgen 17 Zoll", "", models.AttrFelgenhersteller, "Zender"},
		{"rim maker title stop word", "Alufelgen gebraucht", "", models.AttrFelgenhersteller, ""},
		{"tyre maker label", "", "Reifenhersteller: Continental", models.AttrReifenhersteller, "Continental"},
		{"tyre maker generic label", "", "Hersteller: Pirelli", models.AttrReifenhersteller, "Pirelli"},
		{"rim label is not a tyre maker", "", "Felgenhersteller: BBS", models.AttrReifenhersteller, ""},
		{"split rim label is not a tyre maker", "", "Felgen Hersteller: BBS", models.AttrReifenhersteller, ""},
		{"hyphenated rim label is not a tyre maker", "", "Felgen-Hersteller: BBS", models.AttrReifenhersteller, ""},
		{"split rim label keeps rim maker", "", "Felgen Hersteller: BBS", models.AttrFelgenhersteller, "BBS"},
		{"tyre maker from brand list", "", "mit Goodyear Eagle F1", models.AttrReifenhersteller, "Goodyear"},
		{"colour label", "", "Farbe: silber", models.AttrFelgenfarbe, "silber"},
		{"powder coating", "", "Pulverbeschichtung in der Farbe gunmetal", models.AttrFelgenfarbe, "gunmetal"},
		{"colour keyword", "", "Felgen in Anthrazit lackiert", models.AttrFelgenfarbe, "Anthrazit"},
		{"colour keyword inflected", "", "schwarze Felgen", models.AttrFelgenfarbe, "schwarz"},
		{"zoll label", "", "Zollgröße: 19", models.AttrZollgroesse, "19"},
		{"zoll colon", "", "Zoll: 16", models.AttrZollgroesse, "16"},
		{"zoll from tyre size", "", "225/45 R17 91W", models.AttrZollgroesse, "17"},
		{"zoll from R marker", "", "Winterräder R16", models.AttrZollgroesse, "16"},
		{"bolt circle label", "", "Lochkreis: 5 x 112", models.AttrLochkreis, "5x112"},
		{"bolt circle comma", "", "Lochkreis: 114,3", models.AttrLochkreis, "114.3"},
		{"bolt circle pattern", "", "LK 5x120", models.AttrLochkreis, "5x120"},
		{"bolt circle skips tyre count", "", "4x 225/45 R17, LK 5x112", models.AttrLochkreis, "5x112"},
		{"hub bore label", "", "Mittenlochbohrung: 57,1", models.AttrNabendurchmesser, "57.1"},
		{"hub bore ML", "", "ET45 ML 72,6", models.AttrNabendurchmesser, "72.6"},
		{"season label", "", "Saison: Winter", models.AttrReifensaison, "Winter"},
		{"season keyword", "", "Sommerreifen auf Stahlfelgen", models.AttrReifensaison, "Sommer"},
		{"season all weather", "", "Allwetterreifen", models.AttrReifensaison, "Ganzjahr"},
		{"tyre width derived", "", "Reifengröße: 245/40 ZR19", models.AttrReifenbreiteVorderachse, "245"},
		{"tyre size normalised", "", "Reifengröße: 205/55r16", models.AttrReifengroesseVorderachse, "205/55 R16"},
		{"no match", "Felgen", "gebraucht, guter Zustand", models.AttrLochkreis, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extract(tt.title, tt.description)
			assert.Equal(t, tt.expected, got[tt.attr])
		})
	}
}

func TestAxleSplit(t *testing.T) {
	t.Run("unlabelled fill front then rear", func(t *testing.T) {
		got := extract("", "ET35 vorne und ET40 hinten")
		assert.Equal(t, "35", got[models.AttrEinpresstiefeVorderachse])
		assert.Equal(t, "40", got[models.AttrEinpresstiefeHinterachse])
	})

	t.Run("single value fills front only", func(t *testing.T) {
		got := extract("", "Einpresstiefe: 45")
		assert.Equal(t, "45", got[models.AttrEinpresstiefeVorderachse])
		assert.Equal(t, "", got[models.AttrEinpresstiefeHinterachse])
	})

	t.Run("labels win over order", func(t *testing.T) {
		got := extract("", "Einpresstiefe Hinterachse: 40\nEinpresstiefe Vorderachse: 35")
		assert.Equal(t, "35", got[models.AttrEinpresstiefeVorderachse])
		assert.Equal(t, "40", got[models.AttrEinpresstiefeHinterachse])
	})

	t.Run("mixed tyre sizes", func(t *testing.T) {
		got := extract("", "vorne 225/40 R18, hinten 255/35 R18, 225/40 R18")
		assert.Equal(t, "225/40 R18", got[models.AttrReifengroesseVorderachse])
		assert.Equal(t, "255/35 R18", got[models.AttrReifengroesseHinterachse])
		assert.Equal(t, "225", got[models.AttrReifenbreiteVorderachse])
		assert.Equal(t, "255", got[models.AttrReifenbreiteHinterachse])
	})

	t.Run("tread depth", func(t *testing.T) {
		got := extract("", "7mm Profil")
		assert.Equal(t, "7mm", got[models.AttrProfiltiefeVorderachse])
	})

	t.Run("dot", func(t *testing.T) {
		got := extract("", "DOT 2321")
		assert.Equal(t, "2321", got[models.AttrDOTVorderachse])
		assert.Equal(t, "", got[models.AttrDOTHinterachse])
	})
}

func TestNormalisesDecomposedUmlauts(t *testing.T) {
	got := extract("", "Zollgro\u0308ße: 19")
	assert.Equal(t, "19", got[models.AttrZollgroesse])
}

func TestNonBreakingSpaces(t *testing.T) {
	got := extract("", "Lochkreis:\u00a05\u00d7108")
	assert.Equal(t, "5x108", got[models.AttrLochkreis])
}
