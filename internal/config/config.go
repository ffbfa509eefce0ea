// Package config carries runtime settings and the scoring weight
// record. Every tunable the scorers and planner consult lives in
// Weights so tests can swap the whole record.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cartomix/havana/internal/track"
)

// Config is the engine runtime configuration.
type Config struct {
	DataDir   string
	LogLevel  string
	CachePath string // SQLite analysis cache; empty disables caching

	// Semantic timeline collaborator.
	SemanticEnabled bool
	SemanticModel   string
	SemanticKeys    []string // rotated on quota exhaustion

	NormalizeLoudness bool
	TargetLUFS        float64

	Weights Weights
}

// Default returns the configuration with environment fallbacks applied.
func Default() *Config {
	cfg := &Config{
		DataDir:           defaultDataDir(),
		LogLevel:          "info",
		SemanticModel:     "gemini-2.0-flash",
		NormalizeLoudness: true,
		TargetLUFS:        -14.0,
		Weights:           DefaultWeights(),
	}

	if keys := os.Getenv("GEMINI_API_KEYS"); keys != "" {
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.SemanticKeys = append(cfg.SemanticKeys, k)
			}
		}
		cfg.SemanticEnabled = len(cfg.SemanticKeys) > 0
	}
	if db := os.Getenv("HAVANA_DB"); db != "" {
		cfg.CachePath = db
	} else {
		cfg.CachePath = filepath.Join(cfg.DataDir, "havana.db")
	}

	return cfg
}

func defaultDataDir() string {
	if dir := os.Getenv("HAVANA_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".havana"
	}
	return filepath.Join(home, ".havana")
}

// HarmonyEntry scores one Camelot semitone distance class.
type HarmonyEntry struct {
	SameMode float64
	DiffMode float64
}

// Weights is the complete scoring configuration. The zero value is not
// usable; start from DefaultWeights.
type Weights struct {
	// Transition-point finder (C5).
	SectionExit           map[track.SectionType]float64
	ChorusDownbeatBonus   float64
	ChorusNextChorusBonus float64

	HeuristicSection    map[track.SectionType]float64
	SuggestedProximity  map[track.PointQuality]float64
	ProximityWindow     float64
	EnergyHighBonus     float64 // energy > 0.7
	EnergyMidBonus      float64 // 0.35 < energy <= 0.5
	EnergyLowPenalty    float64 // energy < 0.15
	EnergySilentPenalty float64 // energy < 0.05
	VocalSwing          float64 // +absent / -present
	DownbeatBonus       float64
	UsedRangePenalty    float64
	MinHeuristicScore   float64
	RetainMinScore      float64
	RetainTopN          int

	// Pair scorer (C6).
	PointQualityFactor  float64
	StructureBoth       float64
	StructureOne        float64
	StructureNone       float64
	StructureOutroIntro float64
	StructureInstrIn    float64
	StructureInstrOut   float64
	StructureClamp      float64
	Harmony             map[int]HarmonyEntry
	HarmonyZeroFactor   float64
	EnergyWeight        float64
	EnergySlope         float64
	MoodThemeBonus      float64
	MoodThemeCap        float64
	MoodAxisBonus       float64
	VarietyByUse        []float64 // index = prior uses of the destination
	PatternPenalty      float64
	PairingBonuses      map[[2]track.SectionType]float64
	SemanticHint        map[track.PointQuality]float64
	TempoSoftRatio      float64
	TempoSoftFactor     float64
	TempoHardRatio      float64
	TempoHardFactor     float64
	RateMin             float64
	RateMax             float64
	FadeCut             float64
	FadeCrossfade       float64
	FadeBeatmatch       float64

	// Route planner (C7).
	NeighborsPerSong    int
	BeamWidth           int
	BeamFloor           int
	BeamDecay           float64
	BeamReductionDepth  int
	MaxMemoryNodes      int
	PruneRatio          float64
	MaxIterations       int
	GoalIterations      int
	DistinctRoutes      int
	HeuristicPerTrack   float64
	HeuristicScoreScale float64
	UsedWindowSeconds   float64
	HistorySize         int

	// Renderer (C8).
	MinFirstBeats   int
	MaxFirstBeats   int
	MinDurationSec  float64
	IdealDuration   float64
	MaxDurationSec  float64
	EntrySnapLimit  float64 // entries earlier than this snap to song start
	OverlapLead     float64
	BlockSeconds    float64
	TailFadeSeconds float64
}

// DefaultWeights returns the factory scoring configuration.
func DefaultWeights() Weights {
	return Weights{
		SectionExit: map[track.SectionType]float64{
			track.SectionChorus:       300,
			track.SectionInstrumental: 280,
			track.SectionBridge:       250,
			track.SectionVerse:        220,
			track.SectionOutro:        200,
			track.SectionIntro:        180,
		},
		ChorusDownbeatBonus:   30,
		ChorusNextChorusBonus: 50,

		HeuristicSection: map[track.SectionType]float64{
			track.SectionChorus:       250,
			track.SectionInstrumental: 230,
			track.SectionBridge:       200,
			track.SectionBreakdown:    190,
			track.SectionVerse:        180,
			track.SectionOutro:        160,
			track.SectionIntro:        150,
		},
		SuggestedProximity: map[track.PointQuality]float64{
			track.QualityExcellent: 200,
			track.QualityGood:      150,
			track.QualityFair:      100,
		},
		ProximityWindow:     2.0,
		EnergyHighBonus:     150,
		EnergyMidBonus:      60,
		EnergyLowPenalty:    -150,
		EnergySilentPenalty: -300,
		VocalSwing:          100,
		DownbeatBonus:       100,
		UsedRangePenalty:    -500,
		MinHeuristicScore:   50,
		RetainMinScore:      60,
		RetainTopN:          50,

		PointQualityFactor:  2.0,
		StructureBoth:       300,
		StructureOne:        100,
		StructureNone:       20,
		StructureOutroIntro: 1.5,
		StructureInstrIn:    1.2,
		StructureInstrOut:   1.2,
		StructureClamp:      300,
		Harmony: map[int]HarmonyEntry{
			0:  {SameMode: 250, DiffMode: 180},
			3:  {SameMode: 200, DiffMode: 160},
			9:  {SameMode: 200, DiffMode: 160},
			5:  {SameMode: 170, DiffMode: 130},
			7:  {SameMode: 170, DiffMode: 130},
			1:  {SameMode: 100, DiffMode: 60},
			2:  {SameMode: 100, DiffMode: 60},
			10: {SameMode: 100, DiffMode: 60},
			11: {SameMode: 100, DiffMode: 60},
		},
		HarmonyZeroFactor: 0.6,
		EnergyWeight:      100,
		EnergySlope:       3,
		MoodThemeBonus:    30,
		MoodThemeCap:      150,
		MoodAxisBonus:     50,
		VarietyByUse:      []float64{100, 50, 20, -50},
		PatternPenalty:    -150,
		PairingBonuses: map[[2]track.SectionType]float64{
			{track.SectionOutro, track.SectionIntro}:        100,
			{track.SectionInstrumental, track.SectionVerse}: 80,
			{track.SectionBridge, track.SectionChorus}:      60,
		},
		SemanticHint: map[track.PointQuality]float64{
			track.QualityExcellent: 100,
			track.QualityGood:      70,
			track.QualityFair:      40,
		},
		TempoSoftRatio:  0.25,
		TempoSoftFactor: 0.75,
		TempoHardRatio:  0.5,
		TempoHardFactor: 0.5,
		RateMin:         0.9,
		RateMax:         1.1,
		FadeCut:         2.0,
		FadeCrossfade:   8.0,
		FadeBeatmatch:   12.0,

		NeighborsPerSong:    25,
		BeamWidth:           5000,
		BeamFloor:           500,
		BeamDecay:           0.8,
		BeamReductionDepth:  5,
		MaxMemoryNodes:      10000,
		PruneRatio:          0.30,
		MaxIterations:       5000000,
		GoalIterations:      10000,
		DistinctRoutes:      3,
		HeuristicPerTrack:   800,
		HeuristicScoreScale: 2,
		UsedWindowSeconds:   30,
		HistorySize:         5,

		MinFirstBeats:   240,
		MaxFirstBeats:   360,
		MinDurationSec:  60,
		IdealDuration:   90,
		MaxDurationSec:  150,
		EntrySnapLimit:  20,
		OverlapLead:     0.2,
		BlockSeconds:    300,
		TailFadeSeconds: 2,
	}
}
