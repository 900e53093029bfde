// Package sports defines the aggregated sports data model: sports, data
// types, and the entities served through the data access layer.
package sports

import (
	"fmt"
	"time"
)

// Sport identifies a sport.
type Sport string

// Supported sports.
const (
	Basketball Sport = "basketball"
	Football   Sport = "football"
	Baseball   Sport = "baseball"
	Hockey     Sport = "hockey"
	Soccer     Sport = "soccer"
)

// DataType identifies a kind of aggregated data.
type DataType string

// Supported data types.
const (
	DataGames       DataType = "games"
	DataTeams       DataType = "teams"
	DataOdds        DataType = "odds"
	DataPredictions DataType = "predictions"
)

// Team is a team in a league.
type Team struct {
	ID           string `json:"id"`
	Sport        Sport  `json:"sport"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
	City         string `json:"city"`
}

// GameStatus is the lifecycle state of a game.
type GameStatus string

// Game statuses.
const (
	StatusScheduled GameStatus = "scheduled"
	StatusLive      GameStatus = "live"
	StatusCompleted GameStatus = "completed"
	StatusCancelled GameStatus = "cancelled"
)

// Game is a single scheduled or played game.
type Game struct {
	ID        string     `json:"id"`
	Sport     Sport      `json:"sport"`
	HomeTeam  string     `json:"home_team"`
	AwayTeam  string     `json:"away_team"`
	StartTime time.Time  `json:"start_time"`
	Status    GameStatus `json:"status"`
	HomeScore int        `json:"home_score,omitempty"`
	AwayScore int        `json:"away_score,omitempty"`
}

// OddsLine is a betting line for a game from one source.
type OddsLine struct {
	GameID      string    `json:"game_id"`
	Sport       Sport     `json:"sport"`
	Source      string    `json:"source"`
	HomeMoney   float64   `json:"home_money"`
	AwayMoney   float64   `json:"away_money"`
	Spread      float64   `json:"spread"`
	Total       float64   `json:"total"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Prediction is a model-generated outcome estimate consumed by callers;
// the prediction arithmetic itself lives outside this repository.
type Prediction struct {
	GameID        string    `json:"game_id"`
	Sport         Sport     `json:"sport"`
	HomeWinProb   float64   `json:"home_win_prob"`
	PredictedEdge float64   `json:"predicted_edge"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Cache key builders. Keys are stable and human-readable so scoped
// invalidation and log lines stay greppable.

// GamesKey is the cache key for a sport's games on a date.
func GamesKey(s Sport, day time.Time) string {
	return fmt.Sprintf("%s:games:%s", s, day.Format("2006-01-02"))
}

// TeamsKey is the cache key for a sport's teams.
func TeamsKey(s Sport) string {
	return fmt.Sprintf("%s:teams", s)
}

// OddsKey is the cache key for a sport's current odds board.
func OddsKey(s Sport) string {
	return fmt.Sprintf("%s:odds", s)
}

// PredictionsKey is the cache key for predictions on a game.
func PredictionsKey(s Sport, gameID string) string {
	return fmt.Sprintf("%s:predictions:%s", s, gameID)
}
