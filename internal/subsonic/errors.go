package subsonic

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"

	"github.com/cesargomez89/navicache/internal/constants"
)

// APIError is the error element of a failed subsonic-response.
type APIError struct {
	Message string
	Code    int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("subsonic error %d: %s", e.Code, e.Message)
}

type xmlEnvelope struct {
	XMLName xml.Name `xml:"subsonic-response"`
	Error   *struct {
		Message string `xml:"message,attr"`
		Code    int    `xml:"code,attr"`
	} `xml:"error"`
}

type jsonEnvelope struct {
	Response *struct {
		Error *struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	} `json:"subsonic-response"`
}

// ParseError returns the error carried by an XML or JSON subsonic-response,
// or nil when payload is not an error envelope.
func ParseError(payload []byte) *APIError {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil
	}

	switch trimmed[0] {
	case '<':
		var env xmlEnvelope
		if err := xml.Unmarshal(trimmed, &env); err != nil || env.Error == nil {
			return nil
		}
		return &APIError{Code: env.Error.Code, Message: env.Error.Message}
	case '{':
		var env jsonEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil || env.Response == nil || env.Response.Error == nil {
			return nil
		}
		return &APIError{Code: env.Response.Error.Code, Message: env.Response.Error.Message}
	}
	return nil
}

// IsTrialExpired reports whether payload is the server's trial expired
// envelope rather than media.
func IsTrialExpired(payload []byte) bool {
	apiErr := ParseError(payload)
	return apiErr != nil && apiErr.Code == constants.SubsonicErrorTrialExpired
}
