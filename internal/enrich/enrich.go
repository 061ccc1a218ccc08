// Package enrich holds the flavor-text collaborators consumed by the
// session engine: caption generation, weather lookup and geolocation.
// All of them are optional decorations; a presence update never waits on
// them beyond a bounded timeout and never fails because of them.
package enrich

import (
	"context"
	"math/rand"
	"time"

	"github.com/nlazarev/pairsync/internal/model"
)

// CaptionFunc returns a short caption for the given activity. Pure and
// synchronous; any non-empty string is acceptable.
type CaptionFunc func(kind model.ActivityKind, statusLabel, mood string) string

// WeatherFunc resolves current weather, possibly from a remote service.
// Implementations must respect ctx cancellation.
type WeatherFunc func(ctx context.Context, lat, lon *float64) (*model.WeatherInfo, error)

// LocatorFunc returns optional coordinates for weather lookup. Both
// results may be nil when the capability is unavailable or denied.
type LocatorFunc func(ctx context.Context) (lat, lon *float64, err error)

// FetchTimeout bounds the locate+weather step of a presence update.
// After it expires the update proceeds without weather data.
const FetchTimeout = 3 * time.Second

// Weather runs locator and weather with the fetch timeout applied, and
// degrades to nil on any failure.
func Weather(ctx context.Context, locate LocatorFunc, fetch WeatherFunc) *model.WeatherInfo {
	if fetch == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	var lat, lon *float64
	if locate != nil {
		if la, lo, err := locate(ctx); err == nil {
			lat, lon = la, lo
		}
	}
	w, err := fetch(ctx, lat, lon)
	if err != nil {
		return nil
	}
	return w
}

// NoLocation is the default LocatorFunc: no coordinates available.
func NoLocation(context.Context) (*float64, *float64, error) { return nil, nil, nil }

// Caption picks a random caption from the pool for the activity kind,
// falling back to the Custom pool for unknown kinds.
func Caption(kind model.ActivityKind, _, _ string) string {
	pool, ok := captions[kind]
	if !ok {
		pool = captions[model.ActivityCustom]
	}
	return pool[rand.Intn(len(pool))]
}

// SimulatedWeather produces plausible weather without any network access.
func SimulatedWeather(_ context.Context, _, _ *float64) (*model.WeatherInfo, error) {
	c := conditions[rand.Intn(len(conditions))]
	temp := c.tempMin + rand.Intn(c.tempMax-c.tempMin)
	return &model.WeatherInfo{Temp: temp, Condition: c.name, Icon: c.icon}, nil
}

// WelcomePhrases greet a returning user; consumed by presentation layers.
var WelcomePhrases = []string{
	"Back for more syncing? 🛰️",
	"The better half is here! 🌟",
	"Partner in crime, back online. 🕵️‍♂️",
	"Ready to sync up? 🚀",
	"Welcome back, legend. 👑",
}

var conditions = []struct {
	name             string
	icon             string
	tempMin, tempMax int
}{
	{"Sunny", "☀️", 20, 35},
	{"Partly Cloudy", "⛅", 15, 25},
	{"Clear Night", "🌙", 10, 18},
	{"Rainy", "🌧️", 12, 20},
	{"Windy", "💨", 10, 22},
}

var captions = map[model.ActivityKind][]string{
	model.ActivityWork: {
		"Productivity mode: ON. 🚀",
		"Making moves, not excuses. 💼",
		"In the zone. Do not disturb. 🛑",
		"Chasing that bread. 🥖",
		"Meeting marathon in progress. 🏃‍♂️",
		"Adulting is hard, but I'm doing it. 👔",
	},
	model.ActivityCoding: {
		"Debugging the universe. 💻",
		"It works on my machine! 🤷‍♂️",
		"Turning coffee into code. ☕",
		"Console.log('Help'). 🐛",
		"Compiling... please wait. ⏳",
		"Stack Overflow is my co-pilot. 👩‍✈️",
	},
	model.ActivityGaming: {
		"One more level, I promise! 🎮",
		"Lag is my only enemy. 📶",
		"Saving the world (virtually). ⚔️",
		"Ranked match. Serious business. 🏆",
		"Just paused life for this. ⏸️",
		"Respawning in 3... 2... 1... 🧟",
	},
	model.ActivityCommuting: {
		"On the move! 🚌",
		"Traffic jam jamming. 🚗",
		"Podcasting and traveling. 🎧",
		"Subway surfer IRL. 🚇",
		"Teleportation when? 🛸",
		"Cruising through the chaos. 🚦",
	},
	model.ActivitySleeping: {
		"Dreaming... 😴",
		"Recharging batteries. 🔋",
		"Do not wake unless pizza. 🍕",
		"Entering REM cycle. 💤",
		"Snooze button champion. 🏆",
		"Offline for maintenance. 🛌",
	},
	model.ActivityStudying: {
		"Knowledge is power! 📚",
		"Brain expanding... 🧠",
		"Cramming session active. 📝",
		"Highlighting everything. 🖍️",
		"Library mode engaged. 🤫",
		"Fueled by caffeine and panic. ☕",
	},
	model.ActivityCooking: {
		"Chef in the kitchen! 🍳",
		"MasterChef audition tape. 🎥",
		"Don't burn the house down. 🔥",
		"Taste testing in progress. 🥄",
		"Adding a pinch of love. ❤️",
		"Whisk taking risks. 🥣",
	},
	model.ActivityExercising: {
		"Getting those gains! 💪",
		"Sweat is just fat crying. 💧",
		"Beast mode activated. 🦍",
		"Running away from problems. 🏃",
		"Leg day... pray for me. 🙏",
		"Endorphins loading... 🔋",
	},
	model.ActivityRelaxing: {
		"Inner peace found. 🧘",
		"Doing absolutely nothing. 🍃",
		"Netflix and chill. 🍿",
		"Horizontal life. 🛋️",
		"Zen mode: 100%. 🎋",
		"Recharging the social battery. 🔋",
	},
	model.ActivityTraveling: {
		"Adventure awaits! ✈️",
		"Catch flights, not feelings. 🛫",
		"Wanderlust enabled. 🗺️",
		"Passport stamps incoming. 🛂",
		"Out of office. Forever? 🌴",
		"Tourist mode: ON. 📸",
	},
	model.ActivityEating: {
		"Yum! 🍕",
		"Food coma imminent. 😋",
		"Calories don't count today. 🍔",
		"Feast mode. 🍖",
		"Just here for the snacks. 🥨",
		"Taste bud party! 🎉",
	},
	model.ActivityCustom: {
		"Living my best life! ✨",
		"Main character energy. 🌟",
		"Vibing at a frequency of cool. 🌊",
		"Plotting world domination. 😈",
		"Just being iconic. 💅",
		"Mystery mode activated. 🕵️",
	},
}
