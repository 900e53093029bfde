package sports_test

import (
	"testing"
	"time"

	"github.com/apexsports/apexfeed/domain/sports"
)

func TestCacheKeys(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "games key carries the date",
			got:  sports.GamesKey(sports.Basketball, day),
			want: "basketball:games:2026-03-14",
		},
		{
			name: "teams key",
			got:  sports.TeamsKey(sports.Hockey),
			want: "hockey:teams",
		},
		{
			name: "odds key",
			got:  sports.OddsKey(sports.Soccer),
			want: "soccer:odds",
		},
		{
			name: "predictions key carries the game id",
			got:  sports.PredictionsKey(sports.Football, "game-17"),
			want: "football:predictions:game-17",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
