// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultListenAddr        = "127.0.0.1:8080"
	DefaultDBPath            = "navicache.db"
	DefaultMetaCacheFile     = "metacache.db"
	DefaultClientName        = "navicache"
	DefaultAPIVersion        = "1.16.1"
	DefaultHTTPTimeout       = 5 * time.Minute
	ImageHTTPTimeout         = 30 * time.Second
	DefaultRequestInterval   = 100 * time.Millisecond
	DefaultHTTPRetryCount    = 3
	DefaultRetryBase         = 1 * time.Second
	DefaultEvictPolicy       = EvictByCachedDate
	DefaultMaxEvictionsPass  = 200
	DefaultEventBufferSize   = 64
	DefaultPlaybackThreshold = 256 * 1024
)

// Cache queue policy defaults
const (
	DefaultMinFreeSpace = 25 * 1024 * 1024
	DefaultMaxRetries   = 5
	DefaultRetryDelay   = 1500 * time.Millisecond
	MaxSkipsPerStart    = 1000
)

// Payloads smaller than this are checked for a server error envelope
// before a transfer is accepted as a song.
const ErrorEnvelopeMaxBytes = 1000

// Subsonic error codes
const (
	SubsonicErrorTrialExpired = 60
)

// Eviction policies
const (
	EvictByCachedDate = "cached"
	EvictByPlayedDate = "played"
)

// Cover art sizes fetched alongside a song
const (
	CoverArtSizeLarge = 640
	CoverArtSizeSmall = 160
)

// File Extensions
const (
	ExtPart = ".part"
	ExtJPG  = ".jpg"
)

// File Names
const (
	CoverArtDir = "covers"
)

// File Permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
)

// UI/UX
const (
	MaxQueueListItems = 100
	MaxSearchResults  = 50
	MaxRecentAlerts   = 50
)
