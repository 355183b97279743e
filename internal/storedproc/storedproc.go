// Package storedproc builds the SQL statement strings for the api.* stored
// procedures the scheduler calls. The catalog itself is an opaque external
// API (spec §6); this package only knows how to format calls into it, the
// same way the original CTaskScheduler's "api::" namespace built CStringList
// batches ahead of ExecSQL.
package storedproc

import (
	"fmt"

	"github.com/google/uuid"
)

// Action is a lifecycle transition passed to api.execute_object_action.
type Action string

const (
	ActionExecute  Action = "execute"
	ActionAbort    Action = "abort"
	ActionCancel   Action = "cancel"
	ActionFail     Action = "fail"
	ActionComplete Action = "complete"
	ActionDone     Action = "done"
)

// quote renders s as a single-quoted SQL literal, doubling embedded quotes.
// The catalog only ever receives operator-controlled identifiers (session
// tokens, uuids, agent/host strings) and job labels, never raw user input,
// but every literal is still escaped defensively before interpolation.
func quote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	out = append(out, '\'')
	return string(out)
}

// Login builds: api.login(client_id, client_secret, agent, host) -> (session, secret)
func Login(clientID, clientSecret, agent, host string) string {
	return fmt.Sprintf("SELECT * FROM api.login(%s, %s, %s, %s);",
		quote(clientID), quote(clientSecret), quote(agent), quote(host))
}

// Signout builds: api.signout(session)
func Signout(session string) string {
	return fmt.Sprintf("SELECT api.signout(%s);", quote(session))
}

// Authorize builds: api.authorize(session) -> (authorized, message)
func Authorize(session string) string {
	return fmt.Sprintf("SELECT * FROM api.authorize(%s);", quote(session))
}

// GetSessions builds: api.get_sessions(username, agent, host) -> [(session)]
func GetSessions(username, agent, host string) string {
	return fmt.Sprintf("SELECT * FROM api.get_sessions(%s, %s, %s);",
		quote(username), quote(agent), quote(host))
}

// Jobs builds: api.job(state_filter) -> [(id, typecode, statecode, body, ...)]
//
// The filter name is contractual ("enabled") but the catalog returns jobs in
// any non-terminal state the scheduler must react to (spec §4.4 step 1).
func Jobs(stateFilter string) string {
	return fmt.Sprintf("SELECT * FROM api.job(%s) ORDER BY created;", quote(stateFilter))
}

// ExecuteObjectAction builds: api.execute_object_action(id::uuid, action).
// id is validated as a UUID first: the catalog casts it with ::uuid, and a
// malformed id must not reach the quote-and-concatenate builder below.
func ExecuteObjectAction(id string, action Action) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("storedproc: execute_object_action: job id %q is not a uuid: %w", id, err)
	}
	return fmt.Sprintf("SELECT * FROM api.execute_object_action(%s::uuid, %s);", quote(id), quote(string(action))), nil
}

// SetObjectLabel builds: api.set_object_label(id::uuid, text). id is
// validated as a UUID for the same reason as ExecuteObjectAction.
func SetObjectLabel(id, text string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("storedproc: set_object_label: job id %q is not a uuid: %w", id, err)
	}
	return fmt.Sprintf("SELECT api.set_object_label(%s::uuid, %s);", quote(id), quote(text)), nil
}
