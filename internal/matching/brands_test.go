package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBrandTable() *BrandTable {
	return NewBrandTable(map[string]string{
		"carrefour":         "carrefour",
		"carrefur":          "carrefour",
		"carrefour express": "carrefour",
		"esselunga":         "esselunga",
		"agip":              "eni",
	}, []string{"supermercato", "il", "la"})
}

func TestBrandTableCanonicalizes(t *testing.T) {
	tbl := testBrandTable()
	assert.Equal(t, "carrefour", tbl.Apply("CARREFOUR EXPRESS"))
	assert.Equal(t, "carrefour", tbl.Apply("Carrefur"))
	assert.Equal(t, "eni", tbl.Apply("Stazione AGIP"))
}

func TestBrandTableStripsStopwords(t *testing.T) {
	tbl := testBrandTable()
	assert.Equal(t, "esselunga", tbl.Apply("Supermercato Esselunga"))
	// Unknown names come back lowercased and stopword-stripped.
	assert.Equal(t, "bottega verde", tbl.Apply("La Bottega Verde"))
}

func TestBrandTableNilSafe(t *testing.T) {
	var tbl *BrandTable
	assert.Equal(t, "anything", tbl.Apply("Anything"))
}

func TestLoadBrandTable(t *testing.T) {
	tbl, err := LoadBrandTable("../../configs/brands.yaml")
	require.NoError(t, err)
	assert.Equal(t, "carrefour", tbl.Apply("SUPERMERCATO CARREFUR"))
	assert.Equal(t, "conad", tbl.Apply("CONAD CITY"))
}
