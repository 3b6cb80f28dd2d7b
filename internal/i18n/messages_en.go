package i18n

// englishMessages contains all English translations.
var englishMessages = map[string]string{
	// Surfaced errors
	"error.generic":            "Something went wrong. Please try again.",
	"error.auth_failed":        "Spotify login failed (%s). Please log in again.",
	"error.account_ineligible": "Music playback requires a Spotify Premium account.",
	"error.connection_failed":  "Couldn't connect the Spotify player. Please reload.",
	"error.playback_failed":    "Playback failed: %s",
	"error.device_not_ready":   "The player isn't ready yet. Please try again in a moment.",

	// Authorization
	"notice.not_authorized.login":   "Please log in to Spotify to play music.",
	"notice.not_authorized.premium": "Music playback requires a Spotify Premium account (%s).",

	// Queue navigation
	"notice.queue.first": "This is the first track.",
	"notice.queue.last":  "This is the last track.",

	// Session
	"notice.logged_out":     "Logged out of Spotify.",
	"notice.now_playing":    "Now playing: %s - %s",
	"notice.recommendation": "New recommendations arrived: %d tracks",
}
