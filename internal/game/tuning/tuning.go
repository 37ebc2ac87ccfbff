// Package tuning holds the game balance and timing knobs. Values ship
// with compiled-in defaults and can be overridden from a YAML file.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	MaxPlayers    int `yaml:"max_players"`
	StartingMoney int `yaml:"starting_money"`
	StartingDice  int `yaml:"starting_dice"`
	RoundBonus    int `yaml:"round_bonus"`

	MarketMinPrice  int `yaml:"market_min_price"`
	MarketDiceExtra int `yaml:"market_dice_extra"`
	RecyclePayment  int `yaml:"recycle_payment"`

	BoardBlockFraction float64 `yaml:"board_block_fraction"`
	BoardMinRadius     int     `yaml:"board_min_radius"`
	BoardMaxRadius     int     `yaml:"board_max_radius"`

	Phases PhaseSeconds `yaml:"phase_seconds"`
}

// PhaseSeconds are wall-clock phase durations. Lobby is untimed.
type PhaseSeconds struct {
	RoundStart   int `yaml:"round_start"`
	Market       int `yaml:"market"`
	Buy          int `yaml:"buy"`
	Auction      int `yaml:"auction"`
	Path         int `yaml:"path"`
	RoundEnd     int `yaml:"round_end"`
	EndedCleanup int `yaml:"ended_cleanup"`
}

func Default() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",

		MaxPlayers:    8,
		StartingMoney: 20,
		StartingDice:  3,
		RoundBonus:    1,

		MarketMinPrice:  1,
		MarketDiceExtra: 2,
		RecyclePayment:  2,

		BoardBlockFraction: 0.10,
		BoardMinRadius:     5,
		BoardMaxRadius:     15,

		Phases: PhaseSeconds{
			RoundStart:   3,
			Market:       20,
			Buy:          30,
			Auction:      15,
			Path:         45,
			RoundEnd:     3,
			EndedCleanup: 60,
		},
	}
}

// Load reads a YAML tuning file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Tuning, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.MaxPlayers < 2 {
		return fmt.Errorf("max_players %d < 2", t.MaxPlayers)
	}
	if t.StartingDice < 1 {
		return fmt.Errorf("starting_dice %d < 1", t.StartingDice)
	}
	if t.MarketMinPrice < 0 {
		return fmt.Errorf("market_min_price %d < 0", t.MarketMinPrice)
	}
	if t.BoardBlockFraction < 0 || t.BoardBlockFraction >= 1 {
		return fmt.Errorf("board_block_fraction %v outside [0,1)", t.BoardBlockFraction)
	}
	if t.BoardMinRadius < 1 || t.BoardMaxRadius < t.BoardMinRadius {
		return fmt.Errorf("board radius bounds [%d,%d] invalid", t.BoardMinRadius, t.BoardMaxRadius)
	}
	for name, v := range map[string]int{
		"round_start":   t.Phases.RoundStart,
		"market":        t.Phases.Market,
		"buy":           t.Phases.Buy,
		"auction":       t.Phases.Auction,
		"path":          t.Phases.Path,
		"round_end":     t.Phases.RoundEnd,
		"ended_cleanup": t.Phases.EndedCleanup,
	} {
		if v < 1 {
			return fmt.Errorf("phase_seconds.%s %d < 1", name, v)
		}
	}
	return nil
}
