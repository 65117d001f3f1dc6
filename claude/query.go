package claude

import (
	"context"
	"strings"
)

// Response is a collected query.
type Response struct {
	// Text is the concatenated top-level assistant text.
	Text     string
	QueryID  string
	Messages []Message
	Result   ResultFinal
}

// QueryResult extends Response with session metadata.
type QueryResult struct {
	SessionID string
	Response
}

// Ask submits prompt and collects its stream until the terminal message.
// A fatal ProtocolError or an SDK limit on the result is returned as the
// error together with what was collected.
func (s *Session) Ask(ctx context.Context, prompt string, opts ...QueryOption) (*Response, error) {
	id, err := s.Query(ctx, prompt, opts...)
	if err != nil {
		return nil, err
	}
	st, err := s.Stream(id)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	resp := &Response{QueryID: id}
	var text strings.Builder
	for m, err := range st.All(ctx) {
		if err != nil {
			return nil, err
		}
		resp.Messages = append(resp.Messages, m)
		switch m := m.(type) {
		case AssistantText:
			if m.ParentToolUseID == "" {
				text.WriteString(m.Text)
			}
		case ResultFinal:
			resp.Result = m
		case *ProtocolError:
			if m.Fatal {
				resp.Text = text.String()
				return resp, m
			}
		}
	}
	resp.Text = text.String()
	if resp.Result.Err != nil {
		return resp, resp.Result.Err
	}
	return resp, nil
}

// Query sends a one-shot prompt and returns the result.
// Defaults to PermissionModeBypass if no permission mode and no permission
// callback are specified.
func Query(ctx context.Context, prompt string, opts ...SessionOption) (*QueryResult, error) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.PermissionMode == PermissionModeDefault && config.CanUseTool == nil {
		opts = append([]SessionOption{WithPermissionMode(PermissionModeBypass)}, opts...)
	}

	session := NewSession(opts...)
	if err := session.Start(ctx); err != nil {
		return nil, err
	}
	defer session.Stop()

	resp, err := session.Ask(ctx, prompt)
	if err != nil {
		return nil, err
	}

	sessionID := resp.Result.SessionID
	if info := session.Info(); info != nil && info.SessionID != "" {
		sessionID = info.SessionID
	}
	return &QueryResult{Response: *resp, SessionID: sessionID}, nil
}
