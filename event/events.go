// Package event names the DISPATCH event types Discord sends over the
// gateway. Unlike opcode.Type (a small closed numeric set), event names are
// an open string set the server can extend, so Type is a plain string.
package event

// Type is the `t` field of a DISPATCH payload.
type Type string

const (
	Ready   Type = "READY"
	Resumed Type = "RESUMED"

	ApplicationCommandPermissionsUpdate Type = "APPLICATION_COMMAND_PERMISSIONS_UPDATE"

	ChannelCreate     Type = "CHANNEL_CREATE"
	ChannelUpdate     Type = "CHANNEL_UPDATE"
	ChannelDelete     Type = "CHANNEL_DELETE"
	ChannelPinsUpdate Type = "CHANNEL_PINS_UPDATE"

	ThreadCreate        Type = "THREAD_CREATE"
	ThreadUpdate        Type = "THREAD_UPDATE"
	ThreadDelete        Type = "THREAD_DELETE"
	ThreadListSync      Type = "THREAD_LIST_SYNC"
	ThreadMemberUpdate  Type = "THREAD_MEMBER_UPDATE"
	ThreadMembersUpdate Type = "THREAD_MEMBERS_UPDATE"

	GuildCreate     Type = "GUILD_CREATE"
	GuildUpdate     Type = "GUILD_UPDATE"
	GuildDelete     Type = "GUILD_DELETE"
	GuildBanAdd     Type = "GUILD_BAN_ADD"
	GuildBanRemove  Type = "GUILD_BAN_REMOVE"

	GuildEmojisUpdate   Type = "GUILD_EMOJIS_UPDATE"
	GuildStickersUpdate Type = "GUILD_STICKERS_UPDATE"

	GuildIntegrationsUpdate Type = "GUILD_INTEGRATIONS_UPDATE"
	IntegrationCreate       Type = "INTEGRATION_CREATE"
	IntegrationUpdate       Type = "INTEGRATION_UPDATE"
	IntegrationDelete       Type = "INTEGRATION_DELETE"

	InviteCreate Type = "INVITE_CREATE"
	InviteDelete Type = "INVITE_DELETE"

	GuildMemberAdd    Type = "GUILD_MEMBER_ADD"
	GuildMemberUpdate Type = "GUILD_MEMBER_UPDATE"
	GuildMemberRemove Type = "GUILD_MEMBER_REMOVE"

	GuildRoleCreate Type = "GUILD_ROLE_CREATE"
	GuildRoleUpdate Type = "GUILD_ROLE_UPDATE"
	GuildRoleDelete Type = "GUILD_ROLE_DELETE"

	GuildScheduledEventCreate     Type = "GUILD_SCHEDULED_EVENT_CREATE"
	GuildScheduledEventUpdate     Type = "GUILD_SCHEDULED_EVENT_UPDATE"
	GuildScheduledEventDelete     Type = "GUILD_SCHEDULED_EVENT_DELETE"
	GuildScheduledEventUserAdd    Type = "GUILD_SCHEDULED_EVENT_USER_ADD"
	GuildScheduledEventUserRemove Type = "GUILD_SCHEDULED_EVENT_USER_REMOVE"

	MessageCreate            Type = "MESSAGE_CREATE"
	MessageUpdate            Type = "MESSAGE_UPDATE"
	MessageDelete            Type = "MESSAGE_DELETE"
	MessageDeleteBulk        Type = "MESSAGE_DELETE_BULK"
	MessageReactionAdd       Type = "MESSAGE_REACTION_ADD"
	MessageReactionRemove    Type = "MESSAGE_REACTION_REMOVE"
	MessageReactionRemoveAll Type = "MESSAGE_REACTION_REMOVE_ALL"

	MessageReactionRemoveEmoji Type = "MESSAGE_REACTION_REMOVE_EMOJI"

	PresenceUpdate Type = "PRESENCE_UPDATE"
	TypingStart    Type = "TYPING_START"

	StageInstanceCreate Type = "STAGE_INSTANCE_CREATE"
	StageInstanceUpdate Type = "STAGE_INSTANCE_UPDATE"
	StageInstanceDelete Type = "STAGE_INSTANCE_DELETE"

	UserUpdate       Type = "USER_UPDATE"
	VoiceStateUpdate Type = "VOICE_STATE_UPDATE"
	VoiceServerUpdate Type = "VOICE_SERVER_UPDATE"
	WebhooksUpdate    Type = "WEBHOOKS_UPDATE"

	InteractionCreate Type = "INTERACTION_CREATE"
)
