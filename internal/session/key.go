package session

// Key maps a session id to its store key. With a non-empty applicationID the
// key is "<applicationID>.<sessionID>".
//
// The concatenation is not escaped: ("a.b", "c") and ("a", "b.c") map to the
// same key. Callers that need isolation must keep the separator out of
// application ids.
func Key(applicationID, sessionID string) string {
	if applicationID == "" {
		return sessionID
	}
	return applicationID + "." + sessionID
}
