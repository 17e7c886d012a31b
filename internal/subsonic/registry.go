package subsonic

import "fmt"

// Registry holds one client per configured server id.
type Registry map[int64]*Client

func (r Registry) Client(serverID int64) (*Client, bool) {
	c, ok := r[serverID]
	return c, ok
}

// StreamURL resolves the stream URL of a song on its server.
func (r Registry) StreamURL(serverID, songID int64) (string, error) {
	c, ok := r[serverID]
	if !ok {
		return "", fmt.Errorf("no server configured with id %d", serverID)
	}
	return c.StreamURL(songID), nil
}
