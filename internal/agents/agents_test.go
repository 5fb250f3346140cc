package agents

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/jotrsim/internal/landscape"
	"github.com/talgya/jotrsim/internal/rng"
	"github.com/talgya/jotrsim/internal/simerr"
	"github.com/talgya/jotrsim/internal/species"
)

var testBounds = [4]float64{-116.30, 33.98, -116.29, 33.99}

func defaultLifecycle() Lifecycle {
	return NewLifecycle(species.JoshuaTree())
}

func TestClassify_Table(t *testing.T) {
	l := defaultLifecycle()
	cases := []struct {
		age  uint16
		want Stage
	}{
		{0, StageSeed},
		{1, StageSeedling},
		{7, StageSeedling},
		{8, StageJuvenile}, // exact juvenile threshold
		{15, StageJuvenile},
		{16, StageAdult},
		{29, StageAdult},
		{30, StageBreeding},
		{200, StageBreeding},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, l.Classify(c.age, StageSeed), "age %d", c.age)
	}
}

func TestClassify_TotalAndMonotone(t *testing.T) {
	l := defaultLifecycle()
	prev := l.Classify(0, StageSeed)
	for age := 1; age <= 1000; age++ {
		s := l.Classify(uint16(age), StageSeedling)
		require.NotEqual(t, StageDead, s)
		require.GreaterOrEqual(t, s, prev, "age %d", age)
		prev = s
	}
}

func TestClassify_DeadIsAbsorbing(t *testing.T) {
	l := defaultLifecycle()
	for _, age := range []uint16{0, 8, 20, 40} {
		assert.Equal(t, StageDead, l.Classify(age, StageDead))
	}
}

func TestStage_NamesMatchSpeciesKeys(t *testing.T) {
	for _, name := range species.RequiredSurvivalStages {
		s, err := ParseStage(name)
		require.NoError(t, err)
		assert.Equal(t, name, s.String())
	}
	_, err := ParseStage("tree")
	assert.Error(t, err)
}

func TestStage_JSON(t *testing.T) {
	b, err := json.Marshal(struct{ S Stage }{StageBreeding})
	require.NoError(t, err)
	assert.JSONEq(t, `{"S":"breeding"}`, string(b))

	var out struct{ S Stage }
	require.NoError(t, json.Unmarshal([]byte(`{"S":"juvenile"}`), &out))
	assert.Equal(t, StageJuvenile, out.S)
}

func TestSurvival_DefaultsAtZeroAridity(t *testing.T) {
	m, err := NewSurvivalModel(species.JoshuaTree())
	require.NoError(t, err)

	assert.InDelta(t, 0.3, m.Probability(StageSeed, 0, false), 1e-12)
	assert.InDelta(t, 0.55, m.Probability(StageSeedling, 0, false), 1e-12)
	assert.InDelta(t, 0.8, m.Probability(StageJuvenile, 0, false), 1e-12)
	assert.InDelta(t, 0.7, m.Probability(StageAdult, 0, false), 1e-12)
	assert.InDelta(t, 0.65, m.Probability(StageBreeding, 0, false), 1e-12)
	assert.Zero(t, m.Probability(StageDead, 0, false))
}

func TestSurvival_LinearInAridityAndNurse(t *testing.T) {
	m, err := NewSurvivalModel(species.JoshuaTree())
	require.NoError(t, err)

	assert.InDelta(t, 0.7-0.1, m.Probability(StageAdult, 100, false), 1e-12)
	assert.InDelta(t, 0.7-0.1+0.2, m.Probability(StageAdult, 100, true), 1e-12)
}

func TestSurvival_Clamped(t *testing.T) {
	m, err := NewSurvivalModel(species.JoshuaTree())
	require.NoError(t, err)

	assert.Equal(t, 0.0, m.Probability(StageSeed, 1000, false))
	assert.Equal(t, 1.0, m.Probability(StageJuvenile, -1000, true))
}

func TestSurvival_MissingRate(t *testing.T) {
	p := species.JoshuaTree().Clone()
	delete(p.SurvivalRates, "breeding")

	_, err := NewSurvivalModel(p)
	assert.ErrorIs(t, err, simerr.ErrConfiguration)
}

func TestSurvives_StrictlyBelow(t *testing.T) {
	assert.True(t, Survives(0.69, 0.7))
	assert.False(t, Survives(0.7, 0.7))
	assert.False(t, Survives(0, 0))
}

func testGrid(t *testing.T) *landscape.Grid {
	t.Helper()
	g, err := landscape.NewGrid(landscape.Uniform(testBounds, 10, 10, 1000, 0), 0)
	require.NoError(t, err)
	return g
}

func TestSpawnPopulation_OnePerRecord(t *testing.T) {
	g := testGrid(t)
	sp := NewSpawner(defaultLifecycle())

	recs := []Record{
		{Position: g.CellCenter(1, 2), Age: 0},
		{Position: g.CellCenter(3, 4), Age: 8},
		{Position: g.CellCenter(5, 6), Age: 40},
	}
	list, err := sp.SpawnPopulation(recs, g)
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, AgentID(1), list[0].ID)
	assert.Equal(t, StageSeed, list[0].Stage)
	assert.Equal(t, StageJuvenile, list[1].Stage)
	assert.Equal(t, StageBreeding, list[2].Stage)
	assert.Equal(t, 3, list[1].Row)
	assert.Equal(t, 4, list[1].Col)
	assert.Nil(t, list[2].ParentID)
	assert.Equal(t, AgentID(4), sp.NextID())
}

func TestSpawnPopulation_OutsideExtent(t *testing.T) {
	g := testGrid(t)
	sp := NewSpawner(defaultLifecycle())

	_, err := sp.SpawnPopulation([]Record{{Position: landscape.Point{X: 0, Y: 0}, Age: 3}}, g)
	assert.ErrorIs(t, err, simerr.ErrSpatialLookup)
}

func TestSpawnSeed(t *testing.T) {
	sp := NewSpawner(defaultLifecycle())
	sp.SetNextID(100)

	a := sp.SpawnSeed(landscape.Point{X: 1, Y: 2}, 3, 4, 7, 12)
	assert.Equal(t, AgentID(100), a.ID)
	assert.Equal(t, StageSeed, a.Stage)
	assert.Zero(t, a.Age)
	require.NotNil(t, a.ParentID)
	assert.Equal(t, AgentID(7), *a.ParentID)
	assert.Equal(t, uint64(12), a.BornTick)
}

func TestDecodeRecordsCSV(t *testing.T) {
	in := "age, lat, lon, note\n12,33.985,-116.295,x\n0,33.981,-116.299,y\n"
	recs, err := DecodeRecordsCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint16(12), recs[0].Age)
	assert.InDelta(t, -116.295, recs[0].Position.X, 1e-12)
	assert.InDelta(t, 33.985, recs[0].Position.Y, 1e-12)
}

func TestDecodeRecordsCSV_MissingColumn(t *testing.T) {
	_, err := DecodeRecordsCSV(strings.NewReader("lon,lat\n1,2\n"))
	assert.Error(t, err)
}

func TestRecordsCSV_RoundTripSkipsDead(t *testing.T) {
	list := []*Agent{
		{ID: 1, Age: 4, Stage: StageSeedling, Position: landscape.Point{X: -116.295, Y: 33.985}},
		{ID: 2, Age: 40, Stage: StageDead, Position: landscape.Point{X: -116.296, Y: 33.986}},
	}
	path := filepath.Join(t.TempDir(), "pop.csv")
	require.NoError(t, WriteRecordsCSV(path, list))

	recs, err := ReadRecordsCSV(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint16(4), recs[0].Age)
}

func TestScatterRecords_InsideGrid(t *testing.T) {
	g := testGrid(t)
	recs := ScatterRecords(testBounds, 500, 0, 60, rng.New(3))
	require.Len(t, recs, 500)

	for _, r := range recs {
		_, _, err := g.Index(r.Position)
		require.NoError(t, err)
		assert.LessOrEqual(t, r.Age, uint16(60))
	}
}
