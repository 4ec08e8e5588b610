package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	KeyAPIID              = "TG_API_ID"
	KeyAPIHash            = "TG_API_HASH"
	KeySessionName        = "TG_SESSION_NAME"
	KeySourceChat         = "SOURCE_CHAT"
	KeyDestinationChat    = "DESTINATION_CHAT"
	KeyForwardOwnMessages = "FORWARD_OWN_MESSAGES"
	KeyOnlineMessage      = "ONLINE_MESSAGE"
	KeyLogLevel           = "LOG_LEVEL"
	KeyDataDir            = "DATA_DIR"
	KeyAPIEndpoint        = "TG_API_ENDPOINT"
	KeyHealthPort         = "HEALTH_PORT"
	KeyRelayMaxInFlight   = "RELAY_MAX_IN_FLIGHT"
	KeyRelayPreserveOrder = "RELAY_PRESERVE_ORDER"
)

const (
	DefaultSessionName   = "tg_forwarder"
	DefaultOnlineMessage = "TG-Forwarder is online and listening for messages."
	DefaultLogLevel      = "INFO"
	DefaultDataDir       = "./data"
)

var requiredKeys = []string{KeyAPIID, KeyAPIHash, KeySourceChat, KeyDestinationChat}

var truthyTokens = map[string]bool{"1": true, "true": true, "yes": true, "on": true}

// Settings is resolved once at startup and never mutated afterwards.
type Settings struct {
	APIID              int64
	APIHash            string
	SessionName        string
	SourceChat         string
	DestinationChat    string
	ForwardOwnMessages bool
	OnlineMessage      string

	LogLevel           string
	DataDir            string
	SessionPath        string
	LogFilePath        string
	LogMaxSizeMB       int
	LogMaxBackups      int
	LogMaxAgeDays      int
	APIEndpoint        string
	HealthPort         int
	RelayMaxInFlight   int
	RelayPreserveOrder bool
}

// BotToken joins the numeric credential and the secret into a Bot API token.
func (s Settings) BotToken() string {
	return strconv.FormatInt(s.APIID, 10) + ":" + s.APIHash
}

// Error reports invalid or missing startup settings.
type Error struct {
	Missing []string
	msg     string
}

func (e *Error) Error() string {
	return e.msg
}

func IsConfigError(err error) bool {
	var cfgErr *Error
	return errors.As(err, &cfgErr)
}

// Lookup reads a single named input. It mirrors os.LookupEnv.
type Lookup func(key string) (string, bool)

func LoadFromEnv() (Settings, error) {
	return Resolve(os.LookupEnv)
}

func Resolve(lookup Lookup) (Settings, error) {
	get := func(key string) string {
		value, ok := lookup(key)
		if !ok {
			return ""
		}
		return strings.TrimSpace(value)
	}

	if missing := missingKeys(get); len(missing) > 0 {
		return Settings{}, &Error{
			Missing: missing,
			msg:     "missing required environment variables: " + strings.Join(missing, ", "),
		}
	}

	apiID, err := strconv.ParseInt(get(KeyAPIID), 10, 64)
	if err != nil {
		return Settings{}, &Error{msg: KeyAPIID + " must be an integer"}
	}

	healthPort, err := parseIntWithDefault(get, KeyHealthPort, 0)
	if err != nil {
		return Settings{}, err
	}
	maxInFlight, err := parseIntWithDefault(get, KeyRelayMaxInFlight, 8)
	if err != nil {
		return Settings{}, err
	}

	dataDir := defaultString(get(KeyDataDir), DefaultDataDir)
	sessionName := defaultString(get(KeySessionName), DefaultSessionName)

	settings := Settings{
		APIID:              apiID,
		APIHash:            get(KeyAPIHash),
		SessionName:        sessionName,
		SourceChat:         get(KeySourceChat),
		DestinationChat:    get(KeyDestinationChat),
		ForwardOwnMessages: parseTruthy(get(KeyForwardOwnMessages)),
		OnlineMessage:      defaultString(rawValue(lookup, KeyOnlineMessage), DefaultOnlineMessage),
		LogLevel:           defaultString(get(KeyLogLevel), DefaultLogLevel),
		DataDir:            dataDir,
		SessionPath:        filepath.Join(dataDir, sessionName+".session"),
		LogFilePath:        filepath.Join(dataDir, "logs", "forwarder.log"),
		LogMaxSizeMB:       10,
		LogMaxBackups:      5,
		LogMaxAgeDays:      14,
		APIEndpoint:        get(KeyAPIEndpoint),
		HealthPort:         healthPort,
		RelayMaxInFlight:   maxInFlight,
		RelayPreserveOrder: parseTruthy(get(KeyRelayPreserveOrder)),
	}

	if err := validate(settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func validate(s Settings) error {
	if s.HealthPort < 0 || s.HealthPort > 65535 {
		return &Error{msg: fmt.Sprintf("%s must be between 0 and 65535: got %d", KeyHealthPort, s.HealthPort)}
	}
	if s.RelayMaxInFlight <= 0 {
		return &Error{msg: fmt.Sprintf("%s must be > 0: got %d", KeyRelayMaxInFlight, s.RelayMaxInFlight)}
	}
	if s.APIEndpoint != "" && strings.Count(s.APIEndpoint, "%s") != 2 {
		return &Error{msg: fmt.Sprintf("%s must contain two %%s placeholders (token, method): got %q", KeyAPIEndpoint, s.APIEndpoint)}
	}
	return nil
}

func missingKeys(get func(string) string) []string {
	seen := make(map[string]bool, len(requiredKeys))
	missing := make([]string, 0, len(requiredKeys))
	for _, key := range requiredKeys {
		if get(key) != "" || seen[key] {
			continue
		}
		seen[key] = true
		missing = append(missing, key)
	}
	sort.Strings(missing)
	return missing
}

func parseIntWithDefault(get func(string) string, key string, fallback int) (int, error) {
	raw := get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &Error{msg: fmt.Sprintf("%s must be integer: %v", key, err)}
	}
	return v, nil
}

func parseTruthy(raw string) bool {
	return truthyTokens[strings.ToLower(strings.TrimSpace(raw))]
}

// The announcement keeps its inner whitespace, so it is read untrimmed.
func rawValue(lookup Lookup, key string) string {
	value, _ := lookup(key)
	return value
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
