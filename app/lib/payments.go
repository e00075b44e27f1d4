package lib

func UserMonthlyTokensKey(user string) string {
	return user + ":monthly_tokens"
}

func UserMonthlyMessagesKey(user string) string {
	return user + ":monthly_messages"
}

const (
	SystemTotalTokensKey   = "system_totals:tokens"
	SystemTotalMessagesKey = "system_totals:ai_messages"
	SystemStatusKey        = "system-status"
)
