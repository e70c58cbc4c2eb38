package constants

import "time"

// Store tables
const (
	TableWaitingUsers = "waiting_users"
	TableSignals      = "signals"
)

// Rendezvous timings
const (
	DefaultWaitingTTL         = 60 * time.Second
	DefaultMatchPollInterval  = 1 * time.Second
	DefaultSignalPollInterval = 2 * time.Second
	DefaultRetryDebounce      = 300 * time.Millisecond
	DefaultSweepSchedule      = "@every 30s"
)

// InviteRoomPrefix prefixes the room that carries invites addressed to a handle.
const InviteRoomPrefix = "invite-"

// RoomSeparator joins the two sorted handles of a room key.
const RoomSeparator = "-"

const (
	DefaultStreamID    = "ling-meet"
	ChatChannelLabel   = "chat"
	DefaultAddr        = ":7080"
	DefaultRedisPrefix = "lingmeet:signals:"
	SignalIDLength     = 21
	NotifierBufferSize = 64
	EventQueueSize     = 256
	MaxPublishAttempts = 5
	SnapshotBufferSize = 16
	MaxChatMessageLen  = 4096
	DefaultTURNUser    = "openrelayproject"
	DefaultTURNCred    = "openrelayproject"
)

const (
	CodecPCMU = "pcmu"
	CodecOPUS = "opus"
	CodecH264 = "h264"
	CodecVP8  = "vp8"
	CodecVP9  = "vp9"
)

// Env keys
const (
	ENV_DB_DRIVER            = "DB_DRIVER"
	ENV_DSN                  = "DSN"
	ENV_REDIS_ADDR           = "REDIS_ADDR"
	ENV_ICE_SERVERS          = "ICE_SERVERS"
	ENV_WAITING_TTL          = "WAITING_TTL"
	ENV_MATCH_POLL_INTERVAL  = "MATCH_POLL_INTERVAL"
	ENV_SIGNAL_POLL_INTERVAL = "SIGNAL_POLL_INTERVAL"
	ENV_RETRY_DEBOUNCE       = "RETRY_DEBOUNCE"
	ENV_SWEEP_SCHEDULE       = "SWEEP_SCHEDULE"
)
