package trackblock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <Placemark>
      <name>101 Platform[EAST-201]</name>
      <Polygon><outerBoundaryIs><LinearRing><coordinates>
        174.76,-36.85,0 174.77,-36.85,0 174.77,-36.84,0 174.76,-36.84,0
      </coordinates></LinearRing></outerBoundaryIs></Polygon>
    </Placemark>
    <Placemark>
      <name>200+201</name>
      <Polygon><outerBoundaryIs><LinearRing><coordinates>
        174.00,-37.00,0 174.01,-37.00,0 174.01,-36.99,0
      </coordinates></LinearRing></outerBoundaryIs></Polygon>
    </Placemark>
    <Placemark>
      <name>300 Central[A,B]</name>
      <description>303,"S3",90deg
304,"S4",270deg,Default</description>
      <Polygon><outerBoundaryIs><LinearRing><coordinates>
        175.00,-38.00,0 175.01,-38.00,0 175.01,-37.99,0
      </coordinates></LinearRing></outerBoundaryIs></Polygon>
    </Placemark>
  </Document>
</kml>`

func TestLoad_BlockNumberAndRoutes(t *testing.T) {
	m, err := Load([]byte(sampleKML))
	require.NoError(t, err)

	b, ok := m.Get(101)
	require.True(t, ok)
	assert.Equal(t, []string{"EAST-201"}, b.Routes)
	assert.True(t, b.Priority) // "Platform" is a >=3 letter run
}

func TestLoad_AltBlock(t *testing.T) {
	m, err := Load([]byte(sampleKML))
	require.NoError(t, err)

	b, ok := m.Get(200)
	require.True(t, ok)
	require.NotNil(t, b.AltBlock)
	assert.Equal(t, 201, *b.AltBlock)

	owner, ok := m.Owner(201)
	require.True(t, ok)
	assert.Equal(t, 200, owner)
}

func TestLoad_Platforms(t *testing.T) {
	m, err := Load([]byte(sampleKML))
	require.NoError(t, err)

	b, ok := m.Get(300)
	require.True(t, ok)
	require.Len(t, b.Platforms, 2)

	p3 := b.Platforms[0]
	assert.Equal(t, 303, p3.BlockNumber)
	assert.True(t, p3.HasStop("S3"))
	assert.False(t, p3.IsDefault)
	require.NotNil(t, p3.Bearing)
	assert.Equal(t, 90.0, *p3.Bearing)

	p4 := b.Platforms[1]
	assert.Equal(t, 304, p4.BlockNumber)
	assert.True(t, p4.HasStop("S4"))
	assert.True(t, p4.IsDefault)
}

func TestLoad_CanonicalOrder(t *testing.T) {
	// Blocks with routes (101, 300) must sort before routeless (200), and
	// among those with routes, insertion order is preserved since both are
	// priority blocks by the letter-run rule ("Platform"/"Central").
	m, err := Load([]byte(sampleKML))
	require.NoError(t, err)

	var order []int
	m.Each(func(b TrackBlock) bool {
		order = append(order, b.BlockNumber)
		return true
	})

	// 101 and 300 both have routes; 200 is routeless and must come last.
	assert.Equal(t, 200, order[len(order)-1])
}

func TestLoad_SkipsPlacemarkWithoutBlockNumber(t *testing.T) {
	doc := `<kml><Document><Placemark><name>NoDigitsHere</name>
<Polygon><outerBoundaryIs><LinearRing><coordinates>1,2 3,4 5,6</coordinates></LinearRing></outerBoundaryIs></Polygon>
</Placemark></Document></kml>`
	m, err := Load([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}
