package i18n

// koreanMessages contains all Korean translations.
var koreanMessages = map[string]string{
	// Surfaced errors
	"error.generic":            "문제가 발생했습니다. 다시 시도해 주세요.",
	"error.auth_failed":        "Spotify 로그인에 실패했습니다 (%s). 다시 로그인해 주세요.",
	"error.account_ineligible": "음악 재생은 Spotify Premium 계정이 필요합니다.",
	"error.connection_failed":  "Spotify 플레이어에 연결하지 못했습니다. 새로고침해 주세요.",
	"error.playback_failed":    "재생에 실패했습니다: %s",
	"error.device_not_ready":   "플레이어가 아직 준비되지 않았습니다. 잠시 후 다시 시도해 주세요.",

	// Authorization
	"notice.not_authorized.login":   "음악을 재생하려면 Spotify에 로그인해 주세요.",
	"notice.not_authorized.premium": "음악 재생은 Spotify Premium 계정이 필요합니다 (%s).",

	// Queue navigation
	"notice.queue.first": "첫 번째 곡입니다.",
	"notice.queue.last":  "마지막 곡입니다.",

	// Session
	"notice.logged_out":     "Spotify에서 로그아웃했습니다.",
	"notice.now_playing":    "재생 중: %s - %s",
	"notice.recommendation": "새 추천곡이 도착했습니다: %d곡",
}
