package discord_bot

type Bot interface {
	Start()
}
